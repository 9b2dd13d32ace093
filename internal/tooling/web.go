package tooling

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"tinker/internal/plan"
)

// webFetchTool downloads a page and extracts readable text. With a CSS
// selector it returns the matched elements only; otherwise the title plus
// leading paragraphs.
type webFetchTool struct {
	client   *http.Client
	maxBytes int64
}

func newWebFetchTool(timeout time.Duration) *webFetchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &webFetchTool{
		client:   &http.Client{Timeout: timeout},
		maxBytes: 2 << 20, // 2MB
	}
}

func (t *webFetchTool) fetch(ctx context.Context, args plan.WebFetchArgs) Outcome {
	rawURL := strings.TrimSpace(args.URL)
	if rawURL == "" {
		return failure(KindInvalidArgs, "url must not be empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return failure(KindInvalidArgs, "url must be absolute http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	req.Header.Set("User-Agent", "Tinker/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return failure(KindWebError, "fetch %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return failure(KindWebError, "fetch %s: status %d", rawURL, resp.StatusCode)
	}

	limited := &io.LimitedReader{R: resp.Body, N: t.maxBytes}
	doc, err := goquery.NewDocumentFromReader(limited)
	if err != nil {
		return failure(KindWebError, "parse html: %v", err)
	}

	if args.Selector != "" {
		var parts []string
		doc.Find(args.Selector).Each(func(_ int, sel *goquery.Selection) {
			if text := collapseWhitespace(sel.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) == 0 {
			return failure(KindWebError, "selector %q matched nothing at %s", args.Selector, rawURL)
		}
		return success(strings.Join(parts, "\n"))
	}

	title := collapseWhitespace(doc.Find("title").First().Text())
	paragraphs := make([]string, 0, 5)
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(paragraphs) >= 5 {
			return false
		}
		text := collapseWhitespace(sel.Text())
		if len(text) < 40 { // skip super short fragments
			return true
		}
		paragraphs = append(paragraphs, text)
		return true
	})

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "%s\n\n", title)
	}
	b.WriteString(strings.Join(paragraphs, "\n\n"))
	return success(strings.TrimSpace(b.String()))
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
