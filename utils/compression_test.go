package utils

import (
	"strings"
	"testing"
)

func TestCompressionRoundTrip(t *testing.T) {
	text := strings.Repeat("Artículo 1. Las presentes disposiciones son de orden público. ", 50)

	for _, alg := range []CompressionAlgorithm{CompressionNone, CompressionGzip, CompressionBrotli} {
		compressed, err := CompressData([]byte(text), alg)
		if err != nil {
			t.Fatalf("%s compress error: %v", alg, err)
		}
		got, err := DecompressData(compressed, alg)
		if err != nil {
			t.Fatalf("%s decompress error: %v", alg, err)
		}
		if string(got) != text {
			t.Fatalf("%s round trip mismatch", alg)
		}
	}
}

func TestCompressTextChoosesAlgorithmBySize(t *testing.T) {
	_, alg, err := CompressText("corto")
	if err != nil {
		t.Fatalf("compress error: %v", err)
	}
	if alg != CompressionNone {
		t.Fatalf("small text algorithm = %s, want none", alg)
	}

	long := strings.Repeat("texto repetitivo ", 100)
	compressed, alg, err := CompressText(long)
	if err != nil {
		t.Fatalf("compress error: %v", err)
	}
	if alg != CompressionBrotli {
		t.Fatalf("large text algorithm = %s, want brotli", alg)
	}
	if len(compressed) >= len(long) {
		t.Fatalf("brotli did not shrink repetitive text: %d >= %d", len(compressed), len(long))
	}

	got, err := DecompressText(compressed, alg)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}
	if got != long {
		t.Fatal("round trip mismatch")
	}
}

func TestDecompressUnknownAlgorithm(t *testing.T) {
	if _, err := DecompressData([]byte("datos"), "zstd"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestDecompressEmptyPayload(t *testing.T) {
	got, err := DecompressData(nil, CompressionBrotli)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}
