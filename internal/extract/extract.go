// Package extract implements the content extractor the decision pool
// depends on through its narrow Extractor interface: given a URL, fetch
// the page and reduce its HTML down to the plain-text article body a
// prompt cascade can read. It is a single-attempt fetcher - the
// decision pool owns the retry/backoff loop and the per-call timeout
// described in spec.md §5.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"argus/internal/decision"
)

var contentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".content", "#content",
}

var blockSelector = "script, style, nav, footer, header, aside, form, iframe, noscript, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"

var textSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// Extractor fetches a page over HTTP and reduces it to plain text via
// goquery, satisfying decision.Extractor and analysis's reuse of the
// same cascade during fallback mode.
type Extractor struct {
	client *http.Client
}

// New builds an Extractor using http.DefaultClient; callers scope the
// request timeout via ctx, matching every other RPC in the pipeline.
func New() *Extractor {
	return &Extractor{client: http.DefaultClient}
}

// Extract fetches rawURL and returns its plain-text body alongside the
// raw HTML (the life-safety sub-flow persists the HTML too, for
// downstream region parsing). A 401/403 response wraps
// decision.ErrAccessDenied so the decision cascade can short-circuit
// retries.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (text, html string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "Argus Content Extractor/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", "", fmt.Errorf("fetching %s: %w", rawURL, decision.ErrAccessDenied)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("non-success status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("reading body of %s: %w", rawURL, err)
	}
	html = string(body)

	text, err = plainText(html)
	if err != nil {
		return "", "", fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	return text, html, nil
}

// plainText reduces page HTML to its readable article text: strip
// boilerplate chrome, prefer a semantic content container, and fall
// back to the whole body when no such container is found.
func plainText(pageHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", err
	}
	doc.Find(blockSelector).Remove()

	var b strings.Builder
	for _, selector := range contentSelectors {
		doc.Find(selector).Find(textSelector).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				b.WriteString(t)
				b.WriteString("\n\n")
			}
		})
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		doc.Find("body").Find(textSelector).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				b.WriteString(t)
				b.WriteString("\n\n")
			}
		})
	}

	return strings.TrimSpace(collapseNewlines.ReplaceAllString(b.String(), "\n\n")), nil
}
