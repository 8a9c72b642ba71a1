package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// Article is the fetched plaintext of one Wikipedia article.
type Article struct {
	// Title is the canonical article title after redirect resolution.
	Title string
	// Content is the full article plaintext.
	Content string
	// Language is the edition's language code (e.g. "en").
	Language string
}

// Fetcher downloads article plaintext from the MediaWiki action API.
type Fetcher struct {
	// BaseURL overrides the per-article API endpoint when set. Used in
	// tests to point at a fake server.
	BaseURL string

	client *http.Client
}

// NewFetcher constructs a Fetcher with a 30 second request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// extractResponse mirrors the action=query&prop=extracts response shape.
type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing *struct{} `json:"missing,omitempty"`
		} `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Fetch validates the article URL and downloads the article plaintext.
// Missing articles return rag.ErrNotFound; malformed URLs return
// rag.ErrInvalidInput.
func (f *Fetcher) Fetch(ctx context.Context, articleURL string) (*Article, error) {
	if !IsArticleURL(articleURL) {
		return nil, fmt.Errorf("%w: not a Wikipedia article URL: %s", rag.ErrInvalidInput, articleURL)
	}

	base := f.BaseURL
	if base == "" {
		base = APIBaseForURL(articleURL)
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("format", "json")
	params.Set("titles", TitleFromURL(articleURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("wiki: create request: %w", err)
	}
	req.Header.Set("User-Agent", "wikirag/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: wikipedia api: %w", rag.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: wikipedia api: HTTP %d", rag.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: wikipedia api: decode response: %w", rag.ErrUpstreamUnavailable, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: wikipedia api: %s: %s", rag.ErrUpstreamUnavailable, parsed.Error.Code, parsed.Error.Info)
	}

	for id, page := range parsed.Query.Pages {
		if id == "-1" || page.Missing != nil {
			return nil, fmt.Errorf("%w: article %q does not exist", rag.ErrNotFound, TitleFromURL(articleURL))
		}
		if page.Extract == "" {
			return nil, fmt.Errorf("%w: article %q has no extractable text", rag.ErrNotFound, page.Title)
		}
		return &Article{
			Title:    page.Title,
			Content:  page.Extract,
			Language: languageFromURL(articleURL),
		}, nil
	}
	return nil, fmt.Errorf("%w: wikipedia api: empty query result", rag.ErrUpstreamUnavailable)
}

// languageFromURL returns the wiki language subdomain, defaulting to "en".
func languageFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "en"
	}
	host := u.Hostname()
	if i := len(host) - len(".wikipedia.org"); i > 0 {
		return host[:i]
	}
	return "en"
}
