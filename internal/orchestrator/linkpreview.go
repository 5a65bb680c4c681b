package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// linkPreviewTimeout bounds the og:*-tag fetch, per spec §4.6.
const linkPreviewTimeout = 5 * time.Second

// markdownLinkPattern finds a markdown-style `[label](url)` destination,
// preferred over a bare URL per the carried-over original behavior
// (SPEC_FULL.md §4).
var markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\((https?://[^)\s]+)\)`)

var bareURLPattern = regexp.MustCompile(`https?://[^\s)]+`)

func extractPreviewURL(text string) string {
	if m := markdownLinkPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return bareURLPattern.FindString(text)
}

// fetchLinkPreview fetches the first eligible URL in text once, with a 5s
// budget, and returns a link_preview widget payload. Any failure returns
// nil silently, per spec §7's webhook/fetch best-effort posture.
func (o *Orchestrator) fetchLinkPreview(ctx context.Context, text string) map[string]any {
	url := extractPreviewURL(text)
	if url == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, linkPreviewTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := o.http.Do(req)
	if err != nil {
		slog.Debug("orchestrator: link preview fetch failed", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	tags := extractOpenGraphTags(body)
	if len(tags) == 0 {
		return nil
	}

	widget := map[string]any{"kind": "link_preview", "url": url}
	if v, ok := tags["og:title"]; ok {
		widget["title"] = v
	}
	if v, ok := tags["og:description"]; ok {
		widget["description"] = v
	}
	if v, ok := tags["og:image"]; ok {
		widget["image"] = v
	}
	if v, ok := tags["og:site_name"]; ok {
		widget["siteName"] = v
	}
	return widget
}

// extractOpenGraphTags walks the parsed document for <meta property="og:*"
// content="..."> tags.
func extractOpenGraphTags(body []byte) map[string]string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	tags := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property", "name":
					property = attr.Val
				case "content":
					content = attr.Val
				}
			}
			if strings.HasPrefix(property, "og:") && content != "" {
				tags[property] = content
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tags
}
