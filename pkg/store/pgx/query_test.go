package pgx

import (
	"strings"
	"testing"

	"github.com/storyhop/storyhop/pkg/store"
)

func TestSQLLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "bk1", want: "E'bk1'"},
		{name: "single quote", input: "O'Brien", want: `E'O\'Brien'`},
		{name: "backslash", input: `a\b`, want: `E'a\\b'`},
		{name: "empty", input: "", want: "E''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sqlLiteral(tt.input)
			if got != tt.want {
				t.Errorf("sqlLiteral(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSQLTextArray(t *testing.T) {
	if got := sqlTextArray(nil); got != "ARRAY[]::text[]" {
		t.Errorf("empty array = %s", got)
	}
	got := sqlTextArray([]string{"HAS_ALIAS", "MENTIONS"})
	if got != "ARRAY[E'HAS_ALIAS', E'MENTIONS']::text[]" {
		t.Errorf("got %s", got)
	}
}

func TestVisualizeQueryInlinesParameters(t *testing.T) {
	s := NewGraphDBStoreWithConnection(nil)
	q := s.VisualizeQuery(3, store.PathFilter{
		BookID:          "bk1",
		SourceEID:       "PERSON::O'Brien",
		TargetEID:       "PLACE::D",
		ExcludeRelTypes: []string{"HAS_ALIAS"},
	})

	for _, want := range []string{
		"E'bk1'",
		`E'PERSON::O\'Brien'`,
		"E'PLACE::D'",
		"ARRAY[E'HAS_ALIAS']::text[]",
		"w.depth < 3",
		"w.depth = 3",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
	// No bind placeholders survive; the text must run as-is.
	if strings.Contains(q, "$1") {
		t.Error("query still contains placeholders")
	}
}
