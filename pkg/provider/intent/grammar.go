package intent

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Grammar is a speech-to-intent context: the intents a user may speak, the
// phrasings of each, and the allowed slot values.
//
// The YAML layout follows the Rhino context format:
//
//	context:
//	  expressions:
//	    focusWindow:
//	      - "focus [the] $windowName:window"
//	      - "switch to $windowName:window"
//	  slots:
//	    windowName:
//	      - chrome
//	      - fire fox
//
// An expression is a sequence of words. "$type:name" captures one value of
// slot type "type" under the slot name "name". "(a, b)" matches exactly one
// of the listed words and "[a, b]" matches one of them or nothing.
type Grammar struct {
	Context struct {
		Expressions map[string][]string `yaml:"expressions"`
		Slots       map[string][]string `yaml:"slots"`
	} `yaml:"context"`

	compiled map[string][]Expression
}

// LoadGrammar reads a grammar from a YAML file.
func LoadGrammar(path string) (*Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("intent: open grammar %q: %w", path, err)
	}
	defer f.Close()
	g, err := ParseGrammar(f)
	if err != nil {
		return nil, fmt.Errorf("intent: grammar %q: %w", path, err)
	}
	return g, nil
}

// ParseGrammar decodes and validates a grammar.
func ParseGrammar(r io.Reader) (*Grammar, error) {
	var g Grammar
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("intent: decode grammar: %w", err)
	}
	if err := g.compile(); err != nil {
		return nil, err
	}
	return &g, nil
}

// compile parses every expression and checks that the slot types it
// references exist.
func (g *Grammar) compile() error {
	var errs []error
	if len(g.Context.Expressions) == 0 {
		errs = append(errs, errors.New("grammar defines no intents"))
	}
	g.compiled = make(map[string][]Expression, len(g.Context.Expressions))
	for _, name := range g.Intents() {
		for _, raw := range g.Context.Expressions[name] {
			e, err := ParseExpression(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("intent %q: %w", name, err))
				continue
			}
			for _, el := range e.Elements {
				if el.SlotType == "" {
					continue
				}
				if len(g.Context.Slots[el.SlotType]) == 0 {
					errs = append(errs, fmt.Errorf("intent %q: expression %q references unknown slot type %q", name, raw, el.SlotType))
				}
			}
			g.compiled[name] = append(g.compiled[name], e)
		}
		if len(g.Context.Expressions[name]) == 0 {
			errs = append(errs, fmt.Errorf("intent %q has no expressions", name))
		}
	}
	return errors.Join(errs...)
}

// Intents returns the intent names in sorted order.
func (g *Grammar) Intents() []string {
	return slices.Sorted(maps.Keys(g.Context.Expressions))
}

// Expressions returns the compiled expressions of an intent.
func (g *Grammar) Expressions(name string) []Expression {
	return g.compiled[name]
}

// SlotValues returns the allowed values of a slot type.
func (g *Grammar) SlotValues(slotType string) []string {
	return g.Context.Slots[slotType]
}

// SlotTypes returns the slot type names in sorted order.
func (g *Grammar) SlotTypes() []string {
	return slices.Sorted(maps.Keys(g.Context.Slots))
}

// Describe renders the grammar as plain text for inclusion in a language
// model prompt.
func (g *Grammar) Describe() string {
	var b strings.Builder
	b.WriteString("Intents and example phrasings:\n")
	for _, name := range g.Intents() {
		fmt.Fprintf(&b, "- %s:\n", name)
		for _, e := range g.Context.Expressions[name] {
			fmt.Fprintf(&b, "    %q\n", e)
		}
	}
	b.WriteString("Slot types and allowed values:\n")
	for _, st := range g.SlotTypes() {
		fmt.Fprintf(&b, "- %s: %s\n", st, strings.Join(g.Context.Slots[st], ", "))
	}
	return b.String()
}

// Expression is one compiled phrasing of an intent.
type Expression struct {
	Raw      string
	Elements []Element
}

// Element is one position in an expression: either a set of literal words
// or a slot capture.
type Element struct {
	// Words are the accepted literal alternatives. Empty for slots.
	Words []string

	// Optional elements may match nothing.
	Optional bool

	// SlotType and SlotName are set for "$type:name" captures.
	SlotType string
	SlotName string
}

// ParseExpression compiles an expression string.
func ParseExpression(raw string) (Expression, error) {
	e := Expression{Raw: raw}
	rest := strings.TrimSpace(raw)
	for rest != "" {
		var el Element
		switch rest[0] {
		case '(', '[':
			closer := byte(')')
			if rest[0] == '[' {
				closer = ']'
				el.Optional = true
			}
			end := strings.IndexByte(rest, closer)
			if end < 0 {
				return Expression{}, fmt.Errorf("expression %q: unclosed %q", raw, rest[0])
			}
			for _, w := range strings.Split(rest[1:end], ",") {
				if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
					el.Words = append(el.Words, w)
				}
			}
			if len(el.Words) == 0 {
				return Expression{}, fmt.Errorf("expression %q: empty group", raw)
			}
			rest = rest[end+1:]
		case '$':
			tok, tail, _ := strings.Cut(rest, " ")
			typ, name, ok := strings.Cut(tok[1:], ":")
			if !ok || typ == "" || name == "" {
				return Expression{}, fmt.Errorf("expression %q: slot %q must be $type:name", raw, tok)
			}
			el.SlotType, el.SlotName = typ, name
			rest = tail
		default:
			tok, tail, _ := strings.Cut(rest, " ")
			el.Words = []string{strings.ToLower(tok)}
			rest = tail
		}
		e.Elements = append(e.Elements, el)
		rest = strings.TrimSpace(rest)
	}
	if len(e.Elements) == 0 {
		return Expression{}, errors.New("empty expression")
	}
	return e, nil
}
