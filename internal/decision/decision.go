// Package decision implements the decision worker pool (C4): it pulls a
// URL off the ingest queue, extracts the article, and runs the threat and
// topic prompt cascades that decide whether the article is dropped,
// queued as a life-safety threat, or queued as a topic match.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"argus/internal/config"
	"argus/internal/core"
	"argus/internal/llm"
	"argus/internal/logger"
	"argus/internal/store"
)

// ErrAccessDenied is returned (or wrapped) by an Extractor implementation
// that detects an access-denied or blocked response. It short-circuits the
// retry loop: the article is recorded as non-relevant immediately instead
// of being retried.
var ErrAccessDenied = errors.New("decision: extractor access denied")

// Extractor fetches plain text and raw HTML for a URL. It is an external
// collaborator - content extraction itself is out of scope for this
// module, which only defines the contract the decision pool expects of it.
type Extractor interface {
	Extract(ctx context.Context, url string) (text, html string, err error)
}

// Generator is the subset of *llm.Client the decision cascade calls.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, schema json.RawMessage, opts llm.Options, target interface{}) error
}

// Store is the subset of *store.Store a decision worker needs.
type Store interface {
	DequeueIngest(ctx context.Context, order core.DequeueOrder) (*core.IngestQueueEntry, error)
	UpsertArticle(ctx context.Context, p store.UpsertArticleParams) (int64, error)
	HasTitleDomainHash(ctx context.Context, hash string) (bool, error)
	HasBodyHash(ctx context.Context, hash string) (bool, error)
	EnqueueLifeSafety(ctx context.Context, e core.LifeSafetyQueueEntry) error
	EnqueueMatchedTopic(ctx context.Context, e core.MatchedTopicQueueEntry) error
}

const (
	maxAge          = 3 * 24 * time.Hour
	minBodyChars    = 100
	minBodyWords    = 50
	emptyQueueSleep = 60 * time.Second
	queueErrSleep   = 5 * time.Second
	extractTimeout  = 60 * time.Second
	extractMaxRetry = 3
)

var extractBackoffs = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Worker is one decision-pool worker, bound to a single model endpoint.
type Worker struct {
	id          int
	model       string
	temperature float32

	store     Store
	gen       Generator
	extractor Extractor
	topics    []config.Topic
	places    PlacesHierarchy

	log zerolog.Logger
}

// New builds a decision worker. temperature governs every prompt call this
// worker makes; the cascade has no per-step temperature of its own.
func New(id int, model string, temperature float32, st Store, gen Generator, extractor Extractor, topics []config.Topic, places PlacesHierarchy) *Worker {
	return &Worker{
		id:          id,
		model:       model,
		temperature: temperature,
		store:       st,
		gen:         gen,
		extractor:   extractor,
		topics:      topics,
		places:      places,
		log:         logger.Worker("decision worker", id, model),
	}
}

// Run loops until ctx is cancelled, dequeuing and processing one article at
// a time.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("starting decision worker")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entry, err := w.store.DequeueIngest(ctx, rollOrder())
		if err != nil {
			w.log.Error().Err(err).Msg("error dequeuing from ingest queue, sleeping")
			if !sleepOrDone(ctx, queueErrSleep) {
				return ctx.Err()
			}
			continue
		}
		if entry == nil {
			if !sleepOrDone(ctx, emptyQueueSleep) {
				return ctx.Err()
			}
			continue
		}
		if strings.TrimSpace(entry.URL) == "" {
			continue
		}

		w.processItem(ctx, *entry)
	}
}

// ProcessOnce dequeues and processes exactly one article in strict random
// order, skipping the weighted roll. The analysis worker pool calls this
// directly when it falls back to decision-style triage during a primary
// model outage, reusing the same cascade rather than a second copy of it.
// It returns false when the dequeue errored or the queue was empty, after
// sleeping itself (queueErrSleep or emptyQueueSleep), and false without a
// sleep for an entry with a blank URL, which is dropped unprocessed. It
// returns true once an item was dequeued and run through the cascade.
func (w *Worker) ProcessOnce(ctx context.Context) bool {
	entry, err := w.store.DequeueIngest(ctx, core.OrderRandom)
	if err != nil {
		w.log.Error().Err(err).Msg("error dequeuing from ingest queue, sleeping")
		sleepOrDone(ctx, queueErrSleep)
		return false
	}
	if entry == nil {
		sleepOrDone(ctx, emptyQueueSleep)
		return false
	}
	if strings.TrimSpace(entry.URL) == "" {
		return false
	}

	w.processItem(ctx, *entry)
	return true
}

// rollOrder implements the weighted dequeue-order roll: 30% newest, 25%
// oldest, 45% random.
func rollOrder() core.DequeueOrder {
	roll := rand.Intn(100)
	switch {
	case roll < 30:
		return core.OrderNewest
	case roll < 55:
		return core.OrderOldest
	default:
		return core.OrderRandom
	}
}

func (w *Worker) processItem(ctx context.Context, entry core.IngestQueueEntry) {
	w.log.Debug().Str("url", entry.URL).Str("title", entry.Title).Msg("reviewing article")

	if entry.PubDate != nil && time.Since(*entry.PubDate) > maxAge {
		w.log.Info().Str("url", entry.URL).Msg("skipping article older than 3 days")
		w.recordNonRelevant(ctx, entry, "", "")
		return
	}

	domain := domainOf(entry.URL)
	titleDomainHash := hashText(domain + entry.Title)
	if seen, err := w.store.HasTitleDomainHash(ctx, titleDomainHash); err == nil && seen {
		w.log.Info().Str("title_domain_hash", titleDomainHash).Msg("already processed, skipping")
		return
	}

	text, html, err := w.extractWithRetry(ctx, entry.URL)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) {
			w.log.Warn().Str("url", entry.URL).Msg("access denied extracting article")
			w.recordNonRelevant(ctx, entry, "", titleDomainHash)
		} else {
			w.log.Warn().Err(err).Str("url", entry.URL).Msg("failed to extract article, giving up")
		}
		return
	}

	if len(strings.TrimSpace(text)) < minBodyChars || len(strings.Fields(text)) < minBodyWords {
		w.log.Warn().Str("url", entry.URL).Msg("article has insufficient content, skipping")
		return
	}

	bodyHash := hashText(text)
	if seen, err := w.store.HasBodyHash(ctx, bodyHash); err == nil && seen {
		w.log.Info().Str("body_hash", bodyHash).Msg("already processed, skipping")
		return
	}

	defer weightedSleep(ctx)

	if w.checkThreat(ctx, text) {
		regions := w.determineThreatLocation(ctx, text)
		if regions != "" {
			if err := w.store.EnqueueLifeSafety(ctx, core.LifeSafetyQueueEntry{
				Text: text, HTML: html, BodyHash: bodyHash, TitleDomainHash: titleDomainHash,
				Regions: regions, URL: entry.URL, Title: entry.Title, PubDate: entry.PubDate,
			}); err != nil {
				w.log.Error().Err(err).Msg("failed to enqueue life-safety candidate")
			} else {
				w.log.Debug().Str("url", entry.URL).Msg("added to life safety queue")
			}
			return
		}
		// Threat confirmed but no recognized region: fall through to the
		// topic path rather than drop it silently.
	}

	w.processTopics(ctx, text, html, entry, bodyHash, titleDomainHash)
}

func (w *Worker) recordNonRelevant(ctx context.Context, entry core.IngestQueueEntry, bodyHash, titleDomainHash string) {
	_, err := w.store.UpsertArticle(ctx, store.UpsertArticleParams{
		URL: entry.URL, Title: entry.Title, IsRelevant: false, BodyHash: bodyHash, TitleDomainHash: titleDomainHash,
		PubDate: entry.PubDate,
	})
	if err != nil {
		w.log.Error().Err(err).Str("url", entry.URL).Msg("failed to record non-relevant article")
	}
}

// processTopics runs the promotional filter, then the per-topic
// is-about/summary/confirm cascade, stopping at the first topic match.
func (w *Worker) processTopics(ctx context.Context, text, html string, entry core.IngestQueueEntry, bodyHash, titleDomainHash string) {
	if w.generateAffirmative(ctx, fmt.Sprintf(llm.PromptPromotional, text)) {
		w.log.Debug().Str("url", entry.URL).Msg("article is primarily promotional, skipping")
		w.recordNonRelevant(ctx, entry, bodyHash, titleDomainHash)
		return
	}

	for _, topic := range w.topics {
		w.log.Debug().Str("topic", topic.Name).Msg("asking if article is about topic")

		if !w.generateAffirmative(ctx, fmt.Sprintf(llm.PromptIsAboutTopic, topic.Prompt, text)) {
			weightedSleep(ctx)
			continue
		}

		// Secondary hash check: guard against a concurrent worker having
		// already enqueued the same content while this one was cascading.
		if seen, err := w.store.HasBodyHash(ctx, bodyHash); err == nil && seen {
			continue
		}

		if w.confirmTopicRelevance(ctx, text, topic.Prompt) {
			if err := w.store.EnqueueMatchedTopic(ctx, core.MatchedTopicQueueEntry{
				Text: text, HTML: html, BodyHash: bodyHash, TitleDomainHash: titleDomainHash,
				Topic: topic.Name, URL: entry.URL, Title: entry.Title, PubDate: entry.PubDate,
			}); err != nil {
				w.log.Error().Err(err).Str("topic", topic.Name).Msg("failed to enqueue matched topic")
			} else {
				w.log.Debug().Str("topic", topic.Name).Msg("added to matched topics queue")
			}
			return
		}
		weightedSleep(ctx)
	}

	w.recordNonRelevant(ctx, entry, bodyHash, titleDomainHash)
}

func (w *Worker) confirmTopicRelevance(ctx context.Context, text, topicPrompt string) bool {
	summary := w.generate(ctx, fmt.Sprintf(llm.PromptTopicSummary, topicPrompt, text))
	if summary == "" {
		return false
	}
	return w.generateAffirmative(ctx, fmt.Sprintf(llm.PromptTopicConfirm, topicPrompt, summary))
}

func (w *Worker) checkThreat(ctx context.Context, text string) bool {
	w.log.Debug().Msg("asking if article is about a threat to life or safety")
	if !w.generateAffirmative(ctx, fmt.Sprintf(llm.PromptThreat, text)) {
		return false
	}
	w.log.Debug().Msg("confirming genuine threat to life or safety")
	return w.generateAffirmative(ctx, fmt.Sprintf(llm.PromptThreatConfirm, text))
}

type threatLocationResponse struct {
	Regions []struct {
		Continent string `json:"continent"`
		Country   string `json:"country"`
		Region    string `json:"region"`
	} `json:"regions"`
}

// determineThreatLocation asks where the threat is impactful and validates
// the response against the configured places hierarchy, returning the raw
// JSON region list if at least one claimed region is recognized.
func (w *Worker) determineThreatLocation(ctx context.Context, text string) string {
	prompt := llm.PromptThreatLocation
	prompt = fmt.Sprintf(prompt, text)

	var resp threatLocationResponse
	err := w.gen.GenerateJSON(ctx, prompt, json.RawMessage(llm.ThreatLocationSchema), llm.Options{Temperature: w.temperature}, &resp)
	if err != nil {
		w.log.Debug().Err(err).Msg("threat location prompt failed")
		return ""
	}

	for _, region := range resp.Regions {
		if w.places.Contains(region.Continent, region.Country, region.Region) {
			raw, err := json.Marshal(resp)
			if err != nil {
				return ""
			}
			return string(raw)
		}
	}
	return ""
}

func (w *Worker) generate(ctx context.Context, prompt string) string {
	out, err := w.gen.Generate(ctx, prompt, llm.Options{Temperature: w.temperature})
	if err != nil {
		// Any failed prompt call is a hard "no" in the cascade.
		w.log.Debug().Err(err).Msg("prompt call failed")
		return ""
	}
	return out
}

func (w *Worker) generateAffirmative(ctx context.Context, prompt string) bool {
	return llm.IsAffirmative(w.generate(ctx, prompt))
}

func (w *Worker) extractWithRetry(ctx context.Context, articleURL string) (text, html string, err error) {
	for attempt := 0; attempt <= extractMaxRetry; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, extractTimeout)
		text, html, err = w.extractor.Extract(callCtx, articleURL)
		cancel()
		if err == nil {
			return text, html, nil
		}
		if errors.Is(err, ErrAccessDenied) {
			return "", "", err
		}
		w.log.Warn().Err(err).Str("url", articleURL).Int("attempt", attempt+1).Msg("extraction failed")
		if attempt < extractMaxRetry {
			if !sleepOrDone(ctx, extractBackoffs[attempt]) {
				return "", "", ctx.Err()
			}
		}
	}
	return "", "", fmt.Errorf("extracting %s after %d attempts: %w", articleURL, extractMaxRetry+1, err)
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// weightedSleep pauses between 0 and 2 seconds, favoring shorter sleeps, to
// smooth the rate of model RPCs a worker issues in a single cascade.
func weightedSleep(ctx context.Context) {
	roll := rand.Intn(6)
	var d time.Duration
	switch {
	case roll < 3:
		return
	case roll < 5:
		d = time.Second
	default:
		d = 2 * time.Second
	}
	sleepOrDone(ctx, d)
}
