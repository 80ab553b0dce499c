package content

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/morningbrief/api/internal/model"
)

// Source fetches items of one content type for a selector (region, league,
// ticker symbol or weather location).
type Source interface {
	Name() string
	Fetch(ctx context.Context, contentType model.ContentType, selector string) ([]model.ContentItem, error)
}

var (
	nonAlnum       = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	trackingParams = []string{"utm_", "fbclid", "gclid", "ref"}
)

// Dedupe drops items that repeat an earlier item's normalized URL, or, for
// items without a URL, an earlier normalized title. Order is preserved.
func Dedupe(items []model.ContentItem) []model.ContentItem {
	seenURL := make(map[string]bool, len(items))
	seenTitle := make(map[string]bool, len(items))
	out := make([]model.ContentItem, 0, len(items))

	for _, item := range items {
		u := normalizeURL(item.URL)
		t := normalizeTitle(item.Title)
		if u != "" && seenURL[u] {
			continue
		}
		if t != "" && seenTitle[t] {
			continue
		}
		if u == "" && t == "" {
			continue
		}
		if u != "" {
			seenURL[u] = true
		}
		if t != "" {
			seenTitle[t] = true
		}
		out = append(out, item)
	}
	return out
}

func normalizeTitle(title string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(title), " "), " ")
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimSuffix(u.EscapedPath(), "/")

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		for _, prefix := range trackingParams {
			if strings.HasPrefix(lower, prefix) {
				query.Del(key)
				break
			}
		}
	}

	normalized := host + path
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+query.Get(k))
		}
		normalized += "?" + strings.Join(parts, "&")
	}
	return normalized
}
