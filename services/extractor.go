package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// TextExtractor is the pre-processing collaborator of the ingestion
// pipeline: it turns an uploaded file into the raw text the chunker
// consumes. The retrieval core only ever sees the resulting string.
type TextExtractor struct {
	maxBytes int64
}

func NewTextExtractor(maxBytes int64) *TextExtractor {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &TextExtractor{maxBytes: maxBytes}
}

// ExtractText dispatches on the file extension. Unknown extensions are
// treated as plain text.
func (e *TextExtractor) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("file %s exceeds extraction limit (%d bytes)", filename, e.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return e.extractPDF(data)
	case ".xlsx":
		return e.extractXLSX(data)
	case ".html", ".htm":
		return e.extractHTML(data)
	default:
		return string(data), nil
	}
}

func (e *TextExtractor) extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not lose the document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return out, nil
}

func (e *TextExtractor) extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line != "" {
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (e *TextExtractor) extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}
	return text, nil
}
