package whisper

import (
	"testing"
	"time"
)

func TestWordsFromTokens(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	tokens := []token{
		{text: "[_BEG_]", p: 1, start: 0, end: 0},
		{text: " Open", p: 0.9, start: ms(100), end: ms(300)},
		{text: " Chr", p: 0.8, start: ms(400), end: ms(600)},
		{text: "ome", p: 0.6, start: ms(600), end: ms(900)},
		{text: ".", p: 0.95, start: ms(900), end: ms(950)},
		{text: "<|endoftext|>", p: 1},
	}

	words := wordsFromTokens(tokens)
	if len(words) != 2 {
		t.Fatalf("got %d words: %+v", len(words), words)
	}
	if words[0].Word != "Open" || words[0].Start != ms(100) || words[0].End != ms(300) {
		t.Errorf("word 0 = %+v", words[0])
	}
	w := words[1]
	if w.Word != "Chrome." {
		t.Errorf("word 1 text = %q, want %q", w.Word, "Chrome.")
	}
	if w.Start != ms(400) || w.End != ms(950) {
		t.Errorf("word 1 span = %v..%v, want 400ms..950ms", w.Start, w.End)
	}
	if w.Confidence != 0.6 {
		t.Errorf("word 1 confidence = %v, want lowest token probability 0.6", w.Confidence)
	}
}

func TestWordsFromTokens_LeadingTokenWithoutSpace(t *testing.T) {
	words := wordsFromTokens([]token{{text: "Hi", p: 0.5}, {text: "!", p: 0.9}})
	if len(words) != 1 || words[0].Word != "Hi!" {
		t.Errorf("got %+v", words)
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	wav := encodeWAV(make([]byte, 100), 16000, 1)
	if len(wav) != 144 {
		t.Fatalf("len = %d, want 144", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
}
