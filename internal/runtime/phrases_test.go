package runtime_test

import (
	"slices"
	"testing"

	"github.com/aretw0/tendril/internal/runtime"
)

func TestRandomPhrases_SeededIsReproducible(t *testing.T) {
	a := runtime.RandomPhrases(42, nil)
	b := runtime.RandomPhrases(42, nil)

	for i := 0; i < 50; i++ {
		pa, pb := a(), b()
		if pa != pb {
			t.Fatalf("draw %d: %q != %q", i, pa, pb)
		}
		if !slices.Contains(runtime.DefaultPhrases, pa) {
			t.Fatalf("draw %d: %q is not a known phrase", i, pa)
		}
	}
}

func TestRotatingPhrases(t *testing.T) {
	next := runtime.RotatingPhrases([]string{"one", "two"})
	got := []string{next(), next(), next()}
	if !slices.Equal(got, []string{"one", "two", "one"}) {
		t.Errorf("got %v", got)
	}
}

func TestFixedPhrase(t *testing.T) {
	if got := runtime.FixedPhrase("Thinking...")(); got != "Thinking..." {
		t.Errorf("got %q", got)
	}
}
