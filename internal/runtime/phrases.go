package runtime

import (
	"math/rand/v2"
	"sync"
)

// DefaultPhrases are the status lines shown while the model works.
var DefaultPhrases = []string{
	"Processing...",
	"Thinking...",
	"Analyzing...",
	"Working on it...",
	"Let me see...",
	"Just a moment...",
}

// PhraseSelector picks the text of the next Processing event.
// It is cosmetic and never influences routing. Implementations must be safe for
// concurrent use because one engine serves every session.
type PhraseSelector func() string

// RandomPhrases selects uniformly from phrases using a seeded generator.
func RandomPhrases(seed uint64, phrases []string) PhraseSelector {
	phrases = orDefault(phrases)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return phrases[rng.IntN(len(phrases))]
	}
}

// RotatingPhrases cycles through phrases in order.
func RotatingPhrases(phrases []string) PhraseSelector {
	phrases = orDefault(phrases)
	var (
		mu   sync.Mutex
		next int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		p := phrases[next%len(phrases)]
		next++
		return p
	}
}

// FixedPhrase always returns text.
func FixedPhrase(text string) PhraseSelector {
	return func() string { return text }
}

func orDefault(phrases []string) []string {
	if len(phrases) == 0 {
		return DefaultPhrases
	}
	return append([]string(nil), phrases...)
}
