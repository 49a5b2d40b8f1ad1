package services

import (
	"fmt"
	"regexp"
	"strings"
)

// articleLookahead is how many leading characters of a chunk are inspected
// when deciding whether the chunk *defines* an article ("Artículo 3. ...")
// rather than merely mentioning it.
const articleLookahead = 50

// Matches "artículo <numeral-or-word>", with or without the accent.
var articlePattern = regexp.MustCompile(`art[íi]culo\s+([0-9]+|[a-záéíóúñ]+)`)

// Spelled-out ordinal and cardinal forms mapped to digits, accent-stripped
// variants included. Mirrors how users actually phrase legal references.
var spelledArticleNumbers = map[string]string{
	"primero": "1", "uno": "1", "1ro": "1",
	"segundo": "2", "dos": "2", "2do": "2",
	"tercero": "3", "tres": "3", "3ro": "3",
	"cuarto": "4", "cuatro": "4", "4to": "4",
	"quinto": "5", "cinco": "5", "5to": "5",
	"sexto": "6", "seis": "6", "6to": "6",
	"septimo": "7", "séptimo": "7", "siete": "7", "7mo": "7",
	"octavo": "8", "ocho": "8", "8vo": "8",
	"noveno": "9", "nueve": "9", "9no": "9",
	"decimo": "10", "décimo": "10", "diez": "10", "10mo": "10",
}

// parseArticleRef extracts a structured article reference from a query,
// accepting both numerals ("artículo 3") and spelled-out ordinals
// ("artículo tercero"). Returns the article number as a string.
func parseArticleRef(query string) (string, bool) {
	m := articlePattern.FindStringSubmatch(strings.ToLower(query))
	if m == nil {
		return "", false
	}
	val := m[1]
	if isDigits(val) {
		return val, true
	}
	if num, ok := spelledArticleNumbers[val]; ok {
		return num, true
	}
	return "", false
}

// articleSearchTerms are the literal markers to substring-search in chunk
// content, covering both diacritic forms.
func articleSearchTerms(num string) []string {
	return []string{
		fmt.Sprintf("Artículo %s", num),
		fmt.Sprintf("Articulo %s", num),
	}
}

// beginsWithArticle reports whether content starts with the article marker
// within the lookahead window, case- and diacritic-insensitively. Such a
// chunk is treated as the article's canonical definition and ranked first.
func beginsWithArticle(content, num string) bool {
	runes := []rune(content)
	if len(runes) > articleLookahead {
		runes = runes[:articleLookahead]
	}
	head := strings.ToLower(string(runes))

	accented := fmt.Sprintf("artículo %s", num)
	plain := fmt.Sprintf("articulo %s", num)
	return strings.Contains(head, accented) || strings.Contains(head, plain)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
