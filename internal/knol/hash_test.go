package knol

import "testing"

func TestNormalize(t *testing.T) {
	got := Normalize("  What is HTMX? \r\n", "A library for AJAX.\r\nAnd more")
	want := "what is htmx?\na library for ajax.\nand more"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		// sha256 of "q\na"
		want := "27d2d5c8276a1f606af38834a9294ae5d3bfc6c5097c03e3fdd6e8c5c37e2ba7"
		if got := Hash("Q", "A"); got != want {
			t.Errorf("Hash() = %s, want %s", got, want)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		if Hash("  what is go? ", "A programming language.") != Hash("What Is Go?", "a programming language.") {
			t.Error("expected equal hashes after normalization")
		}
	})

	t.Run("sides are kept apart", func(t *testing.T) {
		if Hash("ab", "c") == Hash("a", "bc") {
			t.Error("expected different hashes when text moves between sides")
		}
	})
}
