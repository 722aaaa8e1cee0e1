// Package llmresolver implements an intent.Resolver that asks a language
// model to map a transcript onto the intents of an [intent.Grammar].
//
// The model is shown the grammar and must answer with a single JSON object.
// The answer is validated against the grammar before it is accepted: unknown
// intents, unknown slot names and values outside a slot's allowed list are
// rejected, with slot values snapped to their canonical spelling through the
// phonetic matcher. Anything that fails validation, including output that is
// not JSON at all, resolves to "not understood" rather than an error.
package llmresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/echocrafter/pkg/phonetic"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/llm"
)

const (
	defaultTemperature = 0.0
	defaultMaxTokens   = 256
)

const systemPromptTemplate = `You map spoken voice commands to intents.

%s
Rules:
- Pick the single intent whose phrasings best match the command, or none.
- Slot values MUST be taken from the allowed values of the slot type.
- The command comes from a speech recogniser and may contain misspellings.
- If no intent fits, answer with "intent": "".

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"intent": "<intent name or empty>", "slots": {"<slot name>": "<allowed value>"}}`

var _ intent.Resolver = (*Resolver)(nil)

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithTemperature sets the LLM sampling temperature. Default: 0.
func WithTemperature(temp float64) Option {
	return func(r *Resolver) { r.temperature = temp }
}

// WithMatcher replaces the matcher used to snap slot values.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// WithLogger sets the logger used to report rejected model answers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver resolves text through an [llm.Provider]. It is safe for
// concurrent use.
type Resolver struct {
	llm         llm.Provider
	grammar     *intent.Grammar
	matcher     *phonetic.Matcher
	temperature float64
	log         *slog.Logger

	prompt string
	// slots maps intent name -> slot name -> slot type.
	slots map[string]map[string]string
}

// New returns a resolver that asks provider to classify text against g.
func New(provider llm.Provider, g *intent.Grammar, opts ...Option) (*Resolver, error) {
	if provider == nil {
		return nil, errors.New("llmresolver: provider must not be nil")
	}
	if g == nil {
		return nil, errors.New("llmresolver: grammar must not be nil")
	}
	r := &Resolver{
		llm:         provider,
		grammar:     g,
		matcher:     phonetic.New(),
		temperature: defaultTemperature,
		log:         slog.Default(),
		prompt:      fmt.Sprintf(systemPromptTemplate, g.Describe()),
		slots:       make(map[string]map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	for _, name := range g.Intents() {
		m := make(map[string]string)
		for _, e := range g.Expressions(name) {
			for _, el := range e.Elements {
				if el.SlotName != "" {
					m[el.SlotName] = el.SlotType
				}
			}
		}
		r.slots[name] = m
	}
	return r, nil
}

// answer is the JSON object the model is asked to produce.
type answer struct {
	Intent string            `json:"intent"`
	Slots  map[string]string `json:"slots"`
}

// Resolve implements intent.Resolver.
func (r *Resolver) Resolve(ctx context.Context, text string) (intent.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return intent.NotUnderstood(), nil
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.prompt,
		Temperature:  r.temperature,
		MaxTokens:    defaultMaxTokens,
		JSON:         true,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		return intent.Intent{}, fmt.Errorf("llmresolver: complete: %w", err)
	}
	if resp == nil {
		return intent.NotUnderstood(), nil
	}

	var a answer
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &a); err != nil {
		r.log.Debug("llmresolver: unparseable answer", "content", resp.Content, "err", err)
		return intent.NotUnderstood(), nil
	}
	got, err := r.validate(a)
	if err != nil {
		r.log.Debug("llmresolver: answer rejected", "text", text, "err", err)
		return intent.NotUnderstood(), nil
	}
	return got, nil
}

// validate checks a against the grammar and canonicalises slot values.
func (r *Resolver) validate(a answer) (intent.Intent, error) {
	name := strings.TrimSpace(a.Intent)
	if name == "" {
		return intent.Intent{}, errors.New("no intent")
	}
	slotTypes, ok := r.slots[name]
	if !ok {
		return intent.Intent{}, fmt.Errorf("unknown intent %q", name)
	}

	out := intent.Intent{Name: name, Understood: true}
	for slot, value := range a.Slots {
		if strings.TrimSpace(value) == "" {
			continue
		}
		st, ok := slotTypes[slot]
		if !ok {
			return intent.Intent{}, fmt.Errorf("intent %q has no slot %q", name, slot)
		}
		res, ok := r.matcher.Best(value, r.grammar.SlotValues(st))
		if !ok {
			return intent.Intent{}, fmt.Errorf("slot %q: %q is not a %s", slot, value, st)
		}
		if out.Slots == nil {
			out.Slots = make(map[string]string, len(a.Slots))
		}
		out.Slots[slot] = res.Candidate
	}
	return out, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
