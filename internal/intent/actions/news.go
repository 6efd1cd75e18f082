package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vce-gateway/gateway/internal/httpx"
	"github.com/vce-gateway/gateway/internal/intent"
)

// Headline is one news result, grounded on original_source's NewsApi
// get_news response shape.
type Headline struct {
	Title  string `json:"title"`
	Source string `json:"source"`
}

// NewsProvider abstracts the news_api.py backend.
type NewsProvider interface {
	GetNews(ctx context.Context, query string) ([]Headline, error)
}

// NewsAPIClient is an HTTP JSON client against newsapi.org, grounded on
// original_source's openapi/news/news_api.py (apikey/language/country,
// 1h/1000-entry cache).
type NewsAPIClient struct {
	baseURL  string
	apiKey   string
	language string
	country  string
	client   *http.Client
	cache    *ttlCache[[]Headline]
}

// NewNewsAPIClient builds a client matching original_source's defaults.
func NewNewsAPIClient(baseURL, apiKey, language, country string, poolSize int) *NewsAPIClient {
	return &NewsAPIClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		language: language,
		country:  country,
		client:   httpx.NewPooledClient(poolSize, 10*time.Second),
		cache:    newTTLCache[[]Headline](1000, time.Hour),
	}
}

func (n *NewsAPIClient) GetNews(ctx context.Context, query string) ([]Headline, error) {
	if cached, ok := n.cache.get(query); ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s/v2/top-headlines?q=%s&language=%s&country=%s&apiKey=%s",
		n.baseURL, url.QueryEscape(query), n.language, n.country, n.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news status %d", resp.StatusCode)
	}

	var raw struct {
		Articles []struct {
			Title  string `json:"title"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("news decode: %w", err)
	}

	headlines := make([]Headline, len(raw.Articles))
	for i, a := range raw.Articles {
		headlines[i] = Headline{Title: a.Title, Source: a.Source.Name}
	}
	n.cache.set(query, headlines)
	return headlines, nil
}

// NewsHandler implements intent.Handler for the news intent.
type NewsHandler struct {
	Provider NewsProvider
}

var _ intent.Handler = NewsHandler{}

func (h NewsHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	if h.Provider == nil {
		return intent.ActionResult{UserPrompt: "I don't have news access configured right now."}, nil
	}
	headlines, err := h.Provider.GetNews(ctx, content)
	if err != nil || len(headlines) == 0 {
		return intent.ActionResult{UserPrompt: "I couldn't find any news on that right now."}, nil
	}
	lines := make([]string, 0, min(3, len(headlines)))
	for i := 0; i < len(headlines) && i < 3; i++ {
		lines = append(lines, fmt.Sprintf("%s (%s)", headlines[i].Title, headlines[i].Source))
	}
	return intent.ActionResult{UserPrompt: "Here's what I found: " + strings.Join(lines, "; ")}, nil
}
