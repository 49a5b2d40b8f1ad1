package vector

import (
	"math"
	"testing"
)

func TestBlobRoundTrip(t *testing.T) {
	orig := []float32{0.25, -1.5, 3.75, 0}
	blob, err := MarshalBlob(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if blob[0] != BlobVersion {
		t.Fatalf("version byte = %d, want %d", blob[0], BlobVersion)
	}

	got, err := UnmarshalBlob(blob, len(orig))
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	for i := range orig {
		if got[i] != orig[i] {
			t.Fatalf("element %d = %v, want %v", i, got[i], orig[i])
		}
	}
}

func TestMarshalBlobRejectsEmpty(t *testing.T) {
	if _, err := MarshalBlob(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestUnmarshalBlobRejectsBadInput(t *testing.T) {
	blob, err := MarshalBlob([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	if _, err := UnmarshalBlob(blob, 4); err == nil {
		t.Fatal("expected dimension mismatch error")
	}

	bad := append([]byte(nil), blob...)
	bad[0] = BlobVersion + 1
	if _, err := UnmarshalBlob(bad, 3); err == nil {
		t.Fatal("expected version mismatch error")
	}

	if _, err := UnmarshalBlob(blob[:2], 3); err == nil {
		t.Fatal("expected short blob error")
	}

	if _, err := UnmarshalBlob(blob[:len(blob)-1], 3); err == nil {
		t.Fatal("expected truncated payload error")
	}
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	Normalize(vec)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("norm² = %v, want 1", sum)
	}

	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatal("zero vector must stay zero")
	}
}
