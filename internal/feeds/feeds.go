// Package feeds fetches, decompresses, decodes, and parses syndication
// feeds (RSS, Atom, and JSON Feed), enqueuing newly discovered article
// URLs for the decision worker pool.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"argus/internal/logger"
	"argus/internal/store"
)

// Store is the subset of internal/store's Store used by the feed
// ingester.
type Store interface {
	CleanIngest(ctx context.Context, retention time.Duration) (int64, error)
	CountIngest(ctx context.Context) (int, error)
	EnqueueIngest(ctx context.Context, url, title string, pubDate *time.Time) (bool, error)
	UpsertArticle(ctx context.Context, p store.UpsertArticleParams) (int64, error)
}

const (
	maxRetries       = 3
	retryDelay       = 5 * time.Second
	cycleInterval    = 10 * time.Minute
	staleEntryWindow = 7 * 24 * time.Hour
	queueRetention   = 14 * 24 * time.Hour
)

// Item is one parsed feed entry, independent of its source format.
type Item struct {
	URL     string
	Title   string
	PubDate *time.Time
}

// Ingester runs the feed-fetch loop described in spec.md 4.3: clean the
// queue, log its depth, then walk the configured feed list sequentially,
// enqueuing fresh entries and short-circuiting stale ones into a
// non-relevant article row.
type Ingester struct {
	store  Store
	client *http.Client
	urls   []string
}

// New builds an Ingester over the given feed URL list.
func New(store Store, urls []string) *Ingester {
	return &Ingester{
		store: store,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		urls: urls,
	}
}

// Run loops forever, stopping only when ctx is canceled.
func (ing *Ingester) Run(ctx context.Context) error {
	log := logger.Get()
	for {
		if _, err := ing.store.CleanIngest(ctx, queueRetention); err != nil {
			log.Error().Err(err).Msg("feeds: clean ingest queue failed")
		}
		if count, err := ing.store.CountIngest(ctx); err != nil {
			log.Error().Err(err).Msg("feeds: count ingest queue failed")
		} else {
			log.Info().Int("depth", count).Msg("feeds: ingest queue depth")
		}

		for _, feedURL := range ing.urls {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := ing.processFeed(ctx, feedURL); err != nil {
				log.Error().Err(err).Str("feed", feedURL).Msg("feeds: feed processing failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cycleInterval):
		}
	}
}

// processFeed runs one feed through Fetching -> Decompressing -> Decoding
// -> Parsing -> Enqueuing, retrying the whole request up to maxRetries
// times on transport or non-success-status failure. One feed's failure
// never stops the others.
func (ing *Ingester) processFeed(ctx context.Context, feedURL string) error {
	log := logger.Get()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		body, contentType, contentEncoding, browserUsed, err := fetch(ctx, ing.client, feedURL)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("feed", feedURL).Int("attempt", attempt+1).Msg("feeds: fetch failed")
			sleepOrDone(ctx, retryDelay)
			continue
		}
		if browserUsed {
			log.Info().Str("feed", feedURL).Msg("feeds: browser emulation headers required")
		}

		decompressed := decompress(contentEncoding, body)
		text, err := decodeText(decompressed, contentType)
		if err != nil {
			lastErr = fmt.Errorf("decoding: %w", err)
			log.Warn().Err(err).Str("feed", feedURL).Msg("feeds: decode failed")
			sleepOrDone(ctx, retryDelay)
			continue
		}

		items, err := parseFeed(text, contentType)
		if err != nil {
			lastErr = fmt.Errorf("parsing: %w", err)
			log.Warn().Err(err).Str("feed", feedURL).Msg("feeds: parse failed")
			sleepOrDone(ctx, retryDelay)
			continue
		}

		return ing.enqueueItems(ctx, items)
	}
	return fmt.Errorf("feed %s failed after %d attempts: %w", feedURL, maxRetries, lastErr)
}

func (ing *Ingester) enqueueItems(ctx context.Context, items []Item) error {
	log := logger.Get()
	now := time.Now().UTC()
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if item.PubDate != nil && now.Sub(*item.PubDate) > staleEntryWindow {
			if _, err := ing.store.UpsertArticle(ctx, store.UpsertArticleParams{
				URL:        item.URL,
				IsRelevant: false,
				PubDate:    item.PubDate,
			}); err != nil {
				log.Error().Err(err).Str("url", item.URL).Msg("feeds: stale-entry article insert failed")
			}
			continue
		}
		if _, err := ing.store.EnqueueIngest(ctx, item.URL, item.Title, item.PubDate); err != nil {
			log.Error().Err(err).Str("url", item.URL).Msg("feeds: enqueue failed")
		}
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ParseItems exposes the decode+parse pipeline for callers (and tests)
// that already have a response body in hand.
func ParseItems(body []byte, contentType, contentEncoding string) ([]Item, error) {
	decompressed := decompress(contentEncoding, body)
	text, err := decodeText(decompressed, contentType)
	if err != nil {
		return nil, err
	}
	return parseFeed(text, contentType)
}
