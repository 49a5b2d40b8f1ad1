package services

import "testing"

func TestParseArticleRef(t *testing.T) {
	cases := []struct {
		query string
		want  string
		ok    bool
	}{
		{"¿Qué dice el artículo 15?", "15", true},
		{"que dice el articulo 3", "3", true},
		{"Explica el Artículo tercero", "3", true},
		{"resumen del artículo décimo", "10", true},
		{"artículo septimo de la ley", "7", true},
		{"¿Cuánto dura el periodo de prueba?", "", false},
		{"háblame de los artículos en general", "", false},
		{"artículo zzz", "", false},
	}

	for _, tc := range cases {
		got, ok := parseArticleRef(tc.query)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseArticleRef(%q) = (%q, %v), want (%q, %v)",
				tc.query, got, ok, tc.want, tc.ok)
		}
	}
}

func TestArticleSearchTerms(t *testing.T) {
	terms := articleSearchTerms("7")
	if len(terms) != 2 {
		t.Fatalf("len(terms) = %d, want 2", len(terms))
	}
	if terms[0] != "Artículo 7" || terms[1] != "Articulo 7" {
		t.Fatalf("terms = %v", terms)
	}
}

func TestBeginsWithArticle(t *testing.T) {
	if !beginsWithArticle("Artículo 3. El contrato de trabajo deberá...", "3") {
		t.Error("definition chunk not recognized")
	}
	if !beginsWithArticle("ARTICULO 3.- Disposiciones generales", "3") {
		t.Error("unaccented uppercase definition not recognized")
	}
	if beginsWithArticle("Según lo establecido, ver también las reglas conexas y además el Artículo 3", "3") {
		t.Error("mention beyond the lookahead window treated as definition")
	}
}
