package services

import (
	"context"
	"strings"
	"testing"
)

func TestExtractTextPlain(t *testing.T) {
	e := NewTextExtractor(0)
	got, err := e.ExtractText(context.Background(), "reglamento.txt", []byte("contenido plano"))
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if got != "contenido plano" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractTextHTMLStripsMarkup(t *testing.T) {
	html := `<html><head><style>body{color:red}</style></head>
<body><script>alert(1)</script><h1>Reglamento</h1><p>Artículo 1. Disposiciones.</p></body></html>`

	e := NewTextExtractor(0)
	got, err := e.ExtractText(context.Background(), "pagina.html", []byte(html))
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if !strings.Contains(got, "Artículo 1. Disposiciones.") {
		t.Fatalf("body text missing: %q", got)
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "color:red") {
		t.Fatalf("script/style leaked into text: %q", got)
	}
}

func TestExtractTextSizeLimit(t *testing.T) {
	e := NewTextExtractor(10)
	if _, err := e.ExtractText(context.Background(), "grande.txt", []byte("texto que excede el límite")); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestExtractTextInvalidPDF(t *testing.T) {
	e := NewTextExtractor(0)
	if _, err := e.ExtractText(context.Background(), "roto.pdf", []byte("no es un pdf")); err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}
