package phonetic_test

import (
	"testing"

	"github.com/MrWong99/echocrafter/pkg/phonetic"
)

func TestMatcher_Best(t *testing.T) {
	t.Parallel()
	m := phonetic.New()
	candidates := []string{"firefox", "chrome", "terminal", "visual studio code"}

	tests := []struct {
		input     string
		wantIndex int
		wantOK    bool
	}{
		{"chrome", 1, true},
		{"Chrome!", 1, true},
		{"crome", 1, true},
		{"fire fox", 0, true},
		{"visual studio coat", 3, true},
		{"zzzz", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, ok := m.Best(tt.input, candidates)
			if ok != tt.wantOK {
				t.Fatalf("Best(%q) ok = %v, want %v (res=%+v)", tt.input, ok, tt.wantOK, res)
			}
			if ok && res.Index != tt.wantIndex {
				t.Errorf("Best(%q) index = %d (%q), want %d", tt.input, res.Index, res.Candidate, tt.wantIndex)
			}
			if ok && (res.Score < 0.7 || res.Score > 1) {
				t.Errorf("Best(%q) score = %f out of range", tt.input, res.Score)
			}
		})
	}
}

func TestMatcher_BestEmptyCandidates(t *testing.T) {
	t.Parallel()
	if _, ok := phonetic.New().Best("chrome", nil); ok {
		t.Error("Best with no candidates matched")
	}
}

func TestMatcher_Contains(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	tests := []struct {
		text   string
		phrase string
		want   bool
	}{
		{"hey echo crafter", "echo crafter", true},
		{"okay, echo crafter.", "echo crafter", true},
		{"uh echocrafter please", "echo crafter", true},
		{"what is the weather", "echo crafter", false},
		{"", "echo crafter", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, ok := m.Contains(tt.text, tt.phrase)
			if ok != tt.want {
				t.Errorf("Contains(%q, %q) = %v, want %v", tt.text, tt.phrase, ok, tt.want)
			}
		})
	}
}

func TestMatcher_StricterThreshold(t *testing.T) {
	t.Parallel()
	m := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, ok := m.Best("crome", []string{"chrome"}); ok {
		t.Error("near match accepted above 0.99 threshold")
	}
	if _, ok := m.Best("chrome", []string{"chrome"}); !ok {
		t.Error("exact match rejected")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"  Hello,   World! ": "hello world",
		"Don't stop":         "dont stop",
		"":                   "",
		"a-b_c":              "a b c",
	}
	for in, want := range tests {
		if got := phonetic.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
