package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// CollectModule fetches data from external sources (RSS feeds, raw HTTP,
// CSS-selector scraping) in parallel. Per-source failures are embedded in
// the source's own result, not raised, so one bad feed does not fail the
// step.
type CollectModule struct {
	client *http.Client
}

func NewCollectModule() *CollectModule {
	return &CollectModule{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *CollectModule) ID() string { return "collect" }

func (m *CollectModule) Validate(params map[string]any) error {
	raw, ok := params["sources"].([]any)
	if !ok || len(raw) == 0 {
		return fmt.Errorf("sources is required and must be a non-empty list")
	}
	for i, s := range raw {
		src, ok := s.(map[string]any)
		if !ok {
			return fmt.Errorf("sources[%d] must be an object", i)
		}
		typ, _ := src["type"].(string)
		switch typ {
		case "rss", "http", "scrape":
		default:
			return fmt.Errorf("sources[%d] has unknown type %q", i, typ)
		}
		if url, _ := src["url"].(string); url == "" {
			return fmt.Errorf("sources[%d] missing url", i)
		}
	}
	return nil
}

func (m *CollectModule) Execute(ctx context.Context, input map[string]any, _ string) (map[string]any, error) {
	raw := input["sources"].([]any)

	type sourceResult struct {
		id   string
		data any
	}
	results := make([]sourceResult, len(raw))

	g, gCtx := errgroup.WithContext(ctx)
	for i, s := range raw {
		src := s.(map[string]any)
		g.Go(func() error {
			id, _ := src["id"].(string)
			if id == "" {
				id = fmt.Sprintf("source_%d", i)
			}
			data, err := m.fetchSource(gCtx, src)
			if err != nil {
				results[i] = sourceResult{id: id, data: map[string]any{"error": err.Error()}}
				return nil
			}
			results[i] = sourceResult{id: id, data: data}
			return nil
		})
	}
	_ = g.Wait() // per-source errors are embedded in results

	sources := make(map[string]any, len(results))
	for _, r := range results {
		sources[r.id] = r.data
	}
	return map[string]any{"sources": sources}, nil
}

func (m *CollectModule) fetchSource(ctx context.Context, src map[string]any) (any, error) {
	typ, _ := src["type"].(string)
	url, _ := src["url"].(string)
	switch typ {
	case "rss":
		return m.fetchRSS(ctx, url, intParam(src, "limit", 20))
	case "http":
		return m.fetchHTTP(ctx, url)
	case "scrape":
		sel, _ := src["selector"].(string)
		attr, _ := src["attribute"].(string)
		return m.fetchScrape(ctx, url, sel, attr, intParam(src, "limit", 30))
	default:
		return nil, fmt.Errorf("unknown source type %q", typ)
	}
}

func (m *CollectModule) fetchRSS(ctx context.Context, url string, limit int) (any, error) {
	fp := gofeed.NewParser()
	fp.Client = m.client

	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("RSS parse failed: %w", err)
	}

	var items []map[string]any
	for _, item := range feed.Items {
		if len(items) >= limit {
			break
		}
		published := item.Published
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.Format("2006-01-02")
		}
		desc := item.Description
		if len(desc) > 300 {
			desc = desc[:300] + "…"
		}
		items = append(items, map[string]any{
			"title":       item.Title,
			"link":        item.Link,
			"published":   published,
			"description": desc,
		})
	}
	return map[string]any{"feed": feed.Title, "items": items}, nil
}

func (m *CollectModule) fetchHTTP(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request build failed: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("response read failed: %w", err)
	}
	return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
}

func (m *CollectModule) fetchScrape(ctx context.Context, url, selector, attribute string, limit int) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request build failed: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ConductorBot/1.0)")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("HTML parse failed: %w", err)
	}

	if selector == "" {
		selector = "body"
	}
	var items []string
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		var val string
		if attribute != "" {
			val, _ = s.Attr(attribute)
		} else {
			val = strings.TrimSpace(s.Text())
		}
		if val != "" {
			items = append(items, val)
		}
		return true
	})
	return map[string]any{"items": items}, nil
}

func intParam(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}
