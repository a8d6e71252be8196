package feeds

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// RSS is the subset of an RSS 2.0 document this parser needs.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []RSSItem `xml:"item"`
	} `xml:"channel"`
}

// RSSItem is one <item> in an RSS channel.
type RSSItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

// Atom is the subset of an Atom feed document this parser needs.
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomEntry is one <entry> in an Atom feed.
type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// AtomLink is one <link> element within an Atom entry.
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// jsonFeed is the subset of the JSON Feed v1 schema this parser needs.
type jsonFeed struct {
	Title string         `json:"title"`
	Items []jsonFeedItem `json:"items"`
}

type jsonFeedItem struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	DatePublished string `json:"date_published"`
}

// parseFeed dispatches on contentType first (JSON Feed for a JSON content
// type), otherwise tries RSS then Atom; if both XML parses fail, it runs
// the XML cleanup pass and retries once, per spec.md 4.3 step 4.
func parseFeed(text, contentType string) ([]Item, error) {
	if strings.Contains(strings.ToLower(contentType), "json") {
		if items, err := parseJSONFeed(text); err == nil {
			return items, nil
		}
	}

	if items, err := parseRSS(text); err == nil {
		return items, nil
	}
	if items, err := parseAtom(text); err == nil {
		return items, nil
	}

	cleaned := cleanupXML(text)
	if items, err := parseRSS(cleaned); err == nil {
		return items, nil
	}
	if items, err := parseAtom(cleaned); err == nil {
		return items, nil
	}

	return nil, fmt.Errorf("unable to parse feed as JSON feed, RSS, or Atom")
}

func parseJSONFeed(text string) ([]Item, error) {
	var feed jsonFeed
	if err := json.Unmarshal([]byte(text), &feed); err != nil {
		return nil, fmt.Errorf("decoding json feed: %w", err)
	}
	if len(feed.Items) == 0 {
		return nil, fmt.Errorf("json feed has no items")
	}
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		url := entry.URL
		if url == "" {
			url = entry.ID
		}
		items = append(items, Item{
			URL:     url,
			Title:   entry.Title,
			PubDate: parseDate(entry.DatePublished),
		})
	}
	return items, nil
}

func parseRSS(text string) ([]Item, error) {
	var rss RSS
	if err := xml.Unmarshal([]byte(text), &rss); err != nil {
		return nil, fmt.Errorf("decoding rss: %w", err)
	}
	if rss.Channel.Title == "" && len(rss.Channel.Items) == 0 {
		return nil, fmt.Errorf("not an rss document")
	}
	items := make([]Item, 0, len(rss.Channel.Items))
	for _, entry := range rss.Channel.Items {
		items = append(items, Item{
			URL:     firstNonEmpty(entry.Link, entry.GUID),
			Title:   entry.Title,
			PubDate: parseDate(entry.PubDate),
		})
	}
	return items, nil
}

func parseAtom(text string) ([]Item, error) {
	var atom Atom
	if err := xml.Unmarshal([]byte(text), &atom); err != nil {
		return nil, fmt.Errorf("decoding atom: %w", err)
	}
	if atom.Title == "" && len(atom.Entries) == 0 {
		return nil, fmt.Errorf("not an atom document")
	}
	items := make([]Item, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		var link string
		for _, l := range entry.Link {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		items = append(items, Item{
			URL:     firstNonEmpty(link, entry.ID),
			Title:   entry.Title,
			PubDate: parseDate(firstNonEmpty(entry.Published, entry.Updated)),
		})
	}
	return items, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// dateFormats is tried in order by parseDate.
var dateFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// parseDate tries RFC3339, RFC2822, ISO 8601, and several common forms in
// turn, returning nil if none match, per spec.md 4.3 step 5.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// cleanupXML strips a BOM, trims anything before the first recognizable
// XML/RSS/Atom opening tag, substitutes a handful of HTML entities that
// break strict XML decoders, drops invalid XML codepoints, and prepends an
// XML declaration if one is missing. Grounded on
// original_source/src/rss/util.rs's cleanup_xml.
func cleanupXML(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "﻿")

	if idx := strings.Index(cleaned, "<?xml"); idx > 0 {
		cleaned = cleaned[idx:]
	} else if idx := strings.Index(cleaned, "<rss"); idx > 0 {
		cleaned = cleaned[idx:]
	} else if idx := strings.Index(cleaned, "<feed"); idx > 0 {
		cleaned = cleaned[idx:]
	}

	replacer := strings.NewReplacer(
		"&nbsp;", "&#160;",
		"&ndash;", "&#8211;",
		"&mdash;", "&#8212;",
		"&rsquo;", "&#8217;",
		"&lsquo;", "&#8216;",
		"&rdquo;", "&#8221;",
		"&ldquo;", "&#8220;",
		"&amp;amp;", "&amp;",
		"&apos;", "&#39;",
	)
	cleaned = replacer.Replace(cleaned)

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		if isValidXMLRune(r) {
			b.WriteRune(r)
		}
	}
	cleaned = b.String()

	if !strings.HasPrefix(cleaned, "<?xml") {
		cleaned = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + cleaned
	}
	return cleaned
}

func isValidXMLRune(r rune) bool {
	switch {
	case r == 0x09, r == 0x0A, r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	default:
		return false
	}
}
