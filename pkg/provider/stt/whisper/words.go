package whisper

import (
	"strings"
	"time"

	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// token is the part of a whisper.cpp token that word assembly needs.
type token struct {
	text       string
	p          float64
	start, end time.Duration
}

// wordsFromTokens merges sub-word tokens into words. whisper.cpp marks the
// start of a word with a leading space; special tokens ("[_BEG_]",
// "<|endoftext|>") are dropped. A word's confidence is the lowest token
// probability it contains.
func wordsFromTokens(tokens []token) []stt.Word {
	var (
		words []stt.Word
		cur   *stt.Word
	)
	flush := func() {
		if cur != nil {
			cur.Word = strings.TrimSpace(cur.Word)
			if cur.Word != "" {
				words = append(words, *cur)
			}
			cur = nil
		}
	}
	for _, t := range tokens {
		if isSpecial(t.text) {
			continue
		}
		if cur == nil || strings.HasPrefix(t.text, " ") {
			flush()
			cur = &stt.Word{Word: t.text, Start: t.start, End: t.end, Confidence: t.p}
			continue
		}
		cur.Word += t.text
		cur.End = t.end
		if t.p < cur.Confidence {
			cur.Confidence = t.p
		}
	}
	flush()
	return words
}

func isSpecial(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}
