package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/vce-gateway/gateway/internal/intent"
)

type fakeNewsProvider struct {
	headlines []Headline
	err       error
}

func (f fakeNewsProvider) GetNews(ctx context.Context, query string) ([]Headline, error) {
	return f.headlines, f.err
}

func TestNewsHandlerNilProviderReturnsFallback(t *testing.T) {
	h := NewsHandler{}
	res, err := h.Handle(context.Background(), "what's the news", "tech", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if res.UserPrompt != "I don't have news access configured right now." {
		t.Fatalf("UserPrompt = %q", res.UserPrompt)
	}
}

func TestNewsHandlerEmptyResultsReturnsFallback(t *testing.T) {
	h := NewsHandler{Provider: fakeNewsProvider{}}
	res, err := h.Handle(context.Background(), "what's the news", "tech", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if res.UserPrompt != "I couldn't find any news on that right now." {
		t.Fatalf("UserPrompt = %q", res.UserPrompt)
	}
}

func TestNewsHandlerProviderErrorReturnsFallback(t *testing.T) {
	h := NewsHandler{Provider: fakeNewsProvider{err: errors.New("boom")}}
	res, err := h.Handle(context.Background(), "what's the news", "tech", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if res.UserPrompt != "I couldn't find any news on that right now." {
		t.Fatalf("UserPrompt = %q", res.UserPrompt)
	}
}

func TestNewsHandlerJoinsTopThreeHeadlines(t *testing.T) {
	h := NewsHandler{Provider: fakeNewsProvider{headlines: []Headline{
		{Title: "First story", Source: "Wire A"},
		{Title: "Second story", Source: "Wire B"},
		{Title: "Third story", Source: "Wire C"},
		{Title: "Fourth story", Source: "Wire D"},
	}}}
	res, err := h.Handle(context.Background(), "what's the news", "tech", "", intent.Deps{})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	want := "Here's what I found: First story (Wire A); Second story (Wire B); Third story (Wire C)"
	if res.UserPrompt != want {
		t.Fatalf("UserPrompt = %q, want %q", res.UserPrompt, want)
	}
}
