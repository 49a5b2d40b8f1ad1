package services

import "strings"

// charsPerToken is the rough character budget per model token used to turn
// a token budget into a window size.
const charsPerToken = 4

// Chunker splits raw document text into contiguous, overlapping character
// windows. Window boundaries are measured in runes so accented text does
// not split inside a character.
type Chunker struct {
	windowChars  int
	overlapChars int
}

// ChunkWindow is one window over the source text. Start/End are rune
// offsets; consecutive windows overlap by the configured amount so no
// context is severed at a boundary.
type ChunkWindow struct {
	Content string
	Start   int
	End     int
}

// NewChunker derives the window size from a token budget (~4 chars/token).
// Overlap is clamped below the window so ingestion always advances.
func NewChunker(tokenBudget, overlapChars int) *Chunker {
	window := tokenBudget * charsPerToken
	if window <= 0 {
		window = 2000
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= window {
		overlapChars = window / 2
	}
	return &Chunker{windowChars: window, overlapChars: overlapChars}
}

// Split produces the ordered windows covering text. Empty or
// whitespace-only input yields no windows.
func (c *Chunker) Split(text string) []ChunkWindow {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	step := c.windowChars - c.overlapChars

	var windows []ChunkWindow
	for start := 0; start < len(runes); start += step {
		end := start + c.windowChars
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, ChunkWindow{
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == len(runes) {
			break
		}
	}
	return windows
}
