package rag

import (
	"context"
	"testing"

	"github.com/BaSui01/plankton/llm"
	"github.com/BaSui01/plankton/testutil/mocks"
)

func TestExpanderParsesLines(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithResponse("1. what is the tax rate\n2) current VAT percentage\n\nlevy amount today\n")
	e := NewMultiQueryExpander(provider, ExpanderConfig{NumQueries: 3}, nil)

	got := e.Expand(context.Background(), "tax rate?")
	want := []string{"what is the tax rate", "current VAT percentage", "levy amount today"}
	if len(got) != len(want) {
		t.Fatalf("expected %d alternatives, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("alternative %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExpanderCapsAtNumQueries(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithResponse("q1\nq2\nq3\nq4\nq5")
	e := NewMultiQueryExpander(provider, ExpanderConfig{NumQueries: 2}, nil)

	got := e.Expand(context.Background(), "orig")
	if len(got) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(got))
	}
}

func TestExpanderDropsDuplicatesAndOriginal(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithResponse("orig\nalt one\nalt one\nalt two")
	e := NewMultiQueryExpander(provider, ExpanderConfig{NumQueries: 3}, nil)

	got := e.Expand(context.Background(), "orig")
	if len(got) != 2 {
		t.Fatalf("expected 2 alternatives, got %d: %v", len(got), got)
	}
	if got[0] != "alt one" || got[1] != "alt two" {
		t.Errorf("unexpected alternatives: %v", got)
	}
}

func TestExpanderFallsBackOnError(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithError(llm.NewError(llm.ErrUpstreamError, "down"))
	e := NewMultiQueryExpander(provider, ExpanderConfig{NumQueries: 3}, nil)

	if got := e.Expand(context.Background(), "q"); got != nil {
		t.Errorf("expected nil on provider error, got %v", got)
	}
}

func TestExpanderNilProvider(t *testing.T) {
	e := NewMultiQueryExpander(nil, ExpanderConfig{}, nil)
	if got := e.Expand(context.Background(), "q"); got != nil {
		t.Errorf("expected nil without provider, got %v", got)
	}
}
