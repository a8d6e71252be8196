package feeds

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"
	"time"

	"argus/internal/store"
)

func TestParseDate(t *testing.T) {
	cases := map[string]bool{
		"2024-03-15T10:00:00Z":          true,
		"Fri, 15 Mar 2024 10:00:00 GMT":  true,
		"2024-03-15":                    true,
		"not a date":                    false,
		"":                              false,
	}
	for input, wantOK := range cases {
		got := parseDate(input)
		if (got != nil) != wantOK {
			t.Errorf("parseDate(%q) ok = %v, want %v", input, got != nil, wantOK)
		}
	}
}

func TestCleanupXMLStripsJunkBeforeDeclaration(t *testing.T) {
	raw := "garbage before\n<?xml version=\"1.0\"?><rss><channel><title>T</title></channel></rss>"
	cleaned := cleanupXML(raw)
	if cleaned[:5] != "<?xml" {
		t.Fatalf("cleanupXML did not trim to xml declaration: %q", cleaned)
	}
}

func TestCleanupXMLAddsMissingDeclaration(t *testing.T) {
	raw := "<rss><channel><title>T</title></channel></rss>"
	cleaned := cleanupXML(raw)
	if cleaned[:5] != "<?xml" {
		t.Fatalf("expected a prepended xml declaration, got %q", cleaned)
	}
}

func TestParseRSS(t *testing.T) {
	doc := `<?xml version="1.0"?>
<rss><channel><title>Feed</title>
<item><title>Story One</title><link>https://example.com/one</link><pubDate>2024-03-15T10:00:00Z</pubDate></item>
</channel></rss>`
	items, err := parseRSS(doc)
	if err != nil {
		t.Fatalf("parseRSS failed: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://example.com/one" || items[0].Title != "Story One" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].PubDate == nil {
		t.Fatal("expected a parsed pub date")
	}
}

func TestParseAtom(t *testing.T) {
	doc := `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Feed</title>
<entry><title>Story</title><link rel="alternate" href="https://example.com/two"/><published>2024-03-15T10:00:00Z</published></entry>
</feed>`
	items, err := parseAtom(doc)
	if err != nil {
		t.Fatalf("parseAtom failed: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://example.com/two" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseJSONFeed(t *testing.T) {
	doc := `{"title":"Feed","items":[{"id":"1","url":"https://example.com/three","title":"Story","date_published":"2024-03-15T10:00:00Z"}]}`
	items, err := parseJSONFeed(doc)
	if err != nil {
		t.Fatalf("parseJSONFeed failed: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://example.com/three" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseFeedFallsBackThroughCleanup(t *testing.T) {
	doc := "junk\n<rss><channel><title>Feed&nbsp;Name</title><item><title>S</title><link>https://example.com/x</link></item></channel></rss>"
	items, err := parseFeed(doc, "application/rss+xml")
	if err != nil {
		t.Fatalf("parseFeed failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestDecompressGzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte("<rss></rss>"))
	_ = w.Close()

	decoded := decompress("gzip", buf.Bytes())
	if string(decoded) != "<rss></rss>" {
		t.Fatalf("decompress(gzip) = %q", decoded)
	}
}

func TestDecompressFallsBackToRawBytes(t *testing.T) {
	raw := []byte("<rss></rss>")
	decoded := decompress("", raw)
	if string(decoded) != string(raw) {
		t.Fatalf("decompress with no encoding should return raw bytes, got %q", decoded)
	}
}

func TestDecodeTextPassesThroughValidUTF8(t *testing.T) {
	text, err := decodeText([]byte("hello"), "text/xml; charset=utf-8")
	if err != nil || text != "hello" {
		t.Fatalf("decodeText = %q, %v", text, err)
	}
}

type fakeStore struct {
	enqueued []Item
	upserted []store.UpsertArticleParams
}

func (f *fakeStore) CleanIngest(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) CountIngest(ctx context.Context) (int, error) {
	return len(f.enqueued), nil
}

func (f *fakeStore) EnqueueIngest(ctx context.Context, url, title string, pubDate *time.Time) (bool, error) {
	f.enqueued = append(f.enqueued, Item{URL: url, Title: title, PubDate: pubDate})
	return true, nil
}

func (f *fakeStore) UpsertArticle(ctx context.Context, p store.UpsertArticleParams) (int64, error) {
	f.upserted = append(f.upserted, p)
	return int64(len(f.upserted)), nil
}

func TestEnqueueItemsSkipsStaleEntries(t *testing.T) {
	fresh := time.Now().UTC().Add(-1 * time.Hour)
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour)

	fs := &fakeStore{}
	ing := New(fs, nil)
	err := ing.enqueueItems(context.Background(), []Item{
		{URL: "https://example.com/fresh", Title: "fresh", PubDate: &fresh},
		{URL: "https://example.com/stale", Title: "stale", PubDate: &stale},
	})
	if err != nil {
		t.Fatalf("enqueueItems failed: %v", err)
	}
	if len(fs.enqueued) != 1 || fs.enqueued[0].URL != "https://example.com/fresh" {
		t.Fatalf("expected only the fresh entry to be enqueued, got %+v", fs.enqueued)
	}
	if len(fs.upserted) != 1 || fs.upserted[0].URL != "https://example.com/stale" || fs.upserted[0].IsRelevant {
		t.Fatalf("expected the stale entry to be upserted as non-relevant, got %+v", fs.upserted)
	}
}
