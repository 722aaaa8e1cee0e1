// Package phonetic scores how closely spoken text matches a set of known
// phrases, tolerating the spelling noise a speech recogniser produces.
//
// Matching runs in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for every token
//     of the input and of each candidate. Candidates sharing at least one code
//     with the input are phonetic candidates.
//
//  2. Jaro-Winkler ranking: phonetic candidates are accepted at the phonetic
//     threshold (default 0.70). If none qualifies, every candidate is tested
//     on string similarity alone at the stricter fuzzy threshold (default 0.85).
//
// It is used to match wake phrases against short transcripts and to map
// recognised words onto grammar slot values ("crome" -> "chrome").
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that also matched phonetically. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// with no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Result describes the best candidate found by [Matcher.Best].
type Result struct {
	// Index of the winning candidate in the slice passed to Best.
	Index int

	// Candidate is the winning candidate as given (original casing).
	Candidate string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Phonetic reports whether the candidate also shared a Double Metaphone
	// code with the input.
	Phonetic bool
}

// Best returns the candidate most similar to text. ok is false when no
// candidate reaches its threshold or the input is blank.
func (m *Matcher) Best(text string, candidates []string) (res Result, ok bool) {
	text = Normalize(text)
	if text == "" || len(candidates) == 0 {
		return Result{}, false
	}
	tokens := strings.Fields(text)
	codes := codesFor(tokens)

	best := Result{Index: -1}
	for i, c := range candidates {
		norm := Normalize(c)
		if norm == "" {
			continue
		}
		ctoks := strings.Fields(norm)
		phon := overlaps(codes, codesFor(ctoks))
		score := similarity(tokens, ctoks, text, norm)

		switch {
		case phon && score >= m.phoneticThreshold:
			if !best.Phonetic || score > best.Score {
				best = Result{Index: i, Candidate: c, Score: score, Phonetic: true}
			}
		case !phon && !best.Phonetic && score >= m.fuzzyThreshold && score > best.Score:
			best = Result{Index: i, Candidate: c, Score: score}
		}
	}
	if best.Index < 0 {
		return Result{}, false
	}
	return best, true
}

// Contains reports whether any contiguous run of words in text matches
// phrase. Runs of the phrase's own length and one word either side are
// tried so that recognisers splitting or merging words still match.
func (m *Matcher) Contains(text, phrase string) (score float64, ok bool) {
	words := strings.Fields(Normalize(text))
	n := len(strings.Fields(Normalize(phrase)))
	if n == 0 || len(words) == 0 {
		return 0, false
	}
	for size := max(1, n-1); size <= n+1; size++ {
		for start := 0; start+size <= len(words); start++ {
			window := strings.Join(words[start:start+size], " ")
			if r, hit := m.Best(window, []string{phrase}); hit && r.Score > score {
				score, ok = r.Score, true
			}
		}
	}
	return score, ok
}

// Normalize lower-cases s, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
		case r == '\'':
			// "don't" -> "dont"
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// codesFor returns the union of the Double Metaphone codes of tokens. Empty
// codes (tokens with no consonants) are skipped.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and, for single-token candidates, each input token.
func similarity(inTokens, candTokens []string, in, cand string) float64 {
	score := matchr.JaroWinkler(in, cand, false)
	if len(inTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}
	if len(candTokens) == 1 && len(inTokens) == 1 {
		return score
	}
	if len(candTokens) == 1 {
		for _, t := range inTokens {
			if s := matchr.JaroWinkler(t, cand, false); s > score {
				score = s
			}
		}
	}
	return score
}
