// Package rules implements a deterministic intent.Resolver that matches
// transcribed text against the expressions of an [intent.Grammar].
//
// Every word of the text must be consumed by the expression. Literal words
// and slot values are compared with the phonetic matcher, so recogniser
// misspellings ("crome", "fire fox") still resolve. Among all matching
// expressions the one with the highest mean element score wins.
package rules

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/echocrafter/pkg/phonetic"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
)

const (
	// maxSlotWords bounds how many consecutive words one slot may capture.
	maxSlotWords = 4

	defaultMinScore = 0.75
)

// Compile-time interface assertion.
var _ intent.Resolver = (*Resolver)(nil)

// Option configures a [Resolver].
type Option func(*Resolver)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// WithMinScore sets the minimum mean element score an expression match needs
// to be accepted. Default: 0.75.
func WithMinScore(s float64) Option {
	return func(r *Resolver) { r.minScore = s }
}

// Resolver resolves text against a grammar. It is safe for concurrent use.
type Resolver struct {
	grammar  *intent.Grammar
	matcher  *phonetic.Matcher
	minScore float64
}

// New returns a resolver for g.
func New(g *intent.Grammar, opts ...Option) (*Resolver, error) {
	if g == nil {
		return nil, errors.New("rules: grammar must not be nil")
	}
	r := &Resolver{grammar: g, matcher: phonetic.New(), minScore: defaultMinScore}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Resolve implements [intent.Resolver].
func (r *Resolver) Resolve(ctx context.Context, text string) (intent.Intent, error) {
	if err := ctx.Err(); err != nil {
		return intent.Intent{}, err
	}
	words := strings.Fields(phonetic.Normalize(text))
	if len(words) == 0 {
		return intent.NotUnderstood(), nil
	}

	var (
		best     intent.Intent
		bestMean float64
	)
	for _, name := range r.grammar.Intents() {
		for _, e := range r.grammar.Expressions(name) {
			m, ok := r.match(e.Elements, words, match{})
			if !ok {
				continue
			}
			if mean := m.mean(); mean > bestMean {
				bestMean = mean
				best = intent.Intent{Name: name, Slots: m.slots, Understood: true}
			}
		}
	}
	if !best.Understood || bestMean < r.minScore {
		return intent.NotUnderstood(), nil
	}
	return best, nil
}

// match is a partial expression match.
type match struct {
	sum   float64
	n     int
	slots map[string]string
}

func (m match) mean() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func (m match) with(score float64, slotName, value string) match {
	next := match{sum: m.sum + score, n: m.n + 1}
	if slotName != "" || len(m.slots) > 0 {
		next.slots = make(map[string]string, len(m.slots)+1)
		for k, v := range m.slots {
			next.slots[k] = v
		}
		if slotName != "" {
			next.slots[slotName] = value
		}
	}
	return next
}

// match returns the best-scoring way elems can consume exactly words.
func (r *Resolver) match(elems []intent.Element, words []string, acc match) (match, bool) {
	if len(elems) == 0 {
		return acc, len(words) == 0
	}
	el, rest := elems[0], elems[1:]

	var (
		best  match
		found bool
	)
	consider := func(m match, ok bool) {
		if ok && (!found || m.mean() > best.mean()) {
			best, found = m, true
		}
	}

	if el.Optional {
		consider(r.match(rest, words, acc))
	}
	if len(words) == 0 {
		return best, found
	}

	if el.SlotType == "" {
		if score, ok := r.literal(words[0], el.Words); ok {
			consider(r.match(rest, words[1:], acc.with(score, "", "")))
		}
		return best, found
	}

	values := r.grammar.SlotValues(el.SlotType)
	for k := 1; k <= min(maxSlotWords, len(words)); k++ {
		res, ok := r.matcher.Best(strings.Join(words[:k], " "), sized(values, k))
		if !ok {
			continue
		}
		consider(r.match(rest, words[k:], acc.with(res.Score, el.SlotName, res.Candidate)))
	}
	return best, found
}

// literal scores word against the accepted alternatives of a literal element.
func (r *Resolver) literal(word string, alternatives []string) (float64, bool) {
	for _, a := range alternatives {
		if word == a {
			return 1, true
		}
	}
	res, ok := r.matcher.Best(word, alternatives)
	return res.Score, ok
}

// sized returns the values whose word count is within one of k, so a slot
// cannot swallow trailing words that merely contain a value.
func sized(values []string, k int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := len(strings.Fields(v))
		if n >= k-1 && n <= k+1 {
			out = append(out, v)
		}
	}
	return out
}
