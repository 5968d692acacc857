package ids

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if len(a) != 26 {
		t.Fatalf("unexpected ulid length: %d", len(a))
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}

func TestNewUUID(t *testing.T) {
	if _, err := uuid.Parse(NewUUID()); err != nil {
		t.Fatalf("NewUUID is not a uuid: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  req-1 ":                "req-1",
		"":                        "",
		"has space":               "",
		"line\nbreak":             "",
		strings.Repeat("a", 129): "",
	}
	for input, want := range cases {
		if got := Sanitize(input); got != want {
			t.Fatalf("Sanitize(%q)=%q, want %q", input, got, want)
		}
	}
}
