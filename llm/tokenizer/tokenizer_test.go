package tokenizer

import (
	"testing"
)

func TestModelEncodingResolution(t *testing.T) {
	cases := []struct {
		model    string
		encoding string
	}{
		{"gpt-4", "cl100k_base"},
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"text-embedding-3-small", "cl100k_base"},
		{"gpt-4o-2024-08-06", "o200k_base"}, // 前缀匹配
		{"gpt-4-0613", "cl100k_base"},
		{"totally-unknown-model", "cl100k_base"},
	}
	for _, c := range cases {
		tok := NewTiktoken(c.model)
		if tok.encoding != c.encoding {
			t.Errorf("%s: expected encoding %s, got %s", c.model, c.encoding, tok.encoding)
		}
	}
}

func TestEstimatorRoundTrip(t *testing.T) {
	e := NewEstimator()
	text := "héllo wörld 你好"

	tokens, err := e.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := e.Decode(tokens)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != text {
		t.Errorf("round trip mismatch: %q", decoded)
	}

	count, err := e.CountTokens(text)
	if err != nil || count != len(tokens) {
		t.Errorf("CountTokens = %d (err %v), want %d", count, err, len(tokens))
	}
}

func TestEstimatorEmptyText(t *testing.T) {
	e := NewEstimator()
	tokens, err := e.Encode("")
	if err != nil || len(tokens) != 0 {
		t.Errorf("expected no tokens, got %v (err %v)", tokens, err)
	}
	count, _ := e.CountTokens("")
	if count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
}
