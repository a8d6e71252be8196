package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const standardUserAgent = "Argus Feed Reader/1.0"

// browserHeaders emulates a common desktop browser; some feed hosts block
// default Go/bot user agents but serve the same content to this set.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// fetch requests feedURL with the standard header set; if the response is
// a non-success status, it retries once with browser-emulating headers.
// Returns the raw body, Content-Type, Content-Encoding, and whether
// browser emulation was needed.
func fetch(ctx context.Context, client *http.Client, feedURL string) (body []byte, contentType, contentEncoding string, browserUsed bool, err error) {
	body, contentType, contentEncoding, err = doFetch(ctx, client, feedURL, false)
	if err == nil {
		return body, contentType, contentEncoding, false, nil
	}

	body, contentType, contentEncoding, err = doFetch(ctx, client, feedURL, true)
	if err != nil {
		return nil, "", "", false, err
	}
	return body, contentType, contentEncoding, true, nil
}

func doFetch(ctx context.Context, client *http.Client, feedURL string, useBrowserHeaders bool) (body []byte, contentType, contentEncoding string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("building request: %w", err)
	}

	if useBrowserHeaders {
		for k, v := range browserHeaders {
			req.Header.Set(k, v)
		}
	} else {
		req.Header.Set("User-Agent", standardUserAgent)
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/json, text/xml, */*")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("requesting %s: %w", feedURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", "", fmt.Errorf("non-success status %d from %s", resp.StatusCode, feedURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("reading response body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"), nil
}
