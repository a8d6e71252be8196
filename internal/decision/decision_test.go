package decision

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"argus/internal/config"
	"argus/internal/core"
	"argus/internal/llm"
	"argus/internal/store"
)

type fakeStore struct {
	queue       []core.IngestQueueEntry
	titleHashes map[string]bool
	bodyHashes  map[string]bool

	upserted   []store.UpsertArticleParams
	lifeSafety []core.LifeSafetyQueueEntry
	matched    []core.MatchedTopicQueueEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{titleHashes: map[string]bool{}, bodyHashes: map[string]bool{}}
}

func (f *fakeStore) DequeueIngest(ctx context.Context, order core.DequeueOrder) (*core.IngestQueueEntry, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	return &e, nil
}

func (f *fakeStore) UpsertArticle(ctx context.Context, p store.UpsertArticleParams) (int64, error) {
	f.upserted = append(f.upserted, p)
	return int64(len(f.upserted)), nil
}

func (f *fakeStore) HasTitleDomainHash(ctx context.Context, hash string) (bool, error) {
	return f.titleHashes[hash], nil
}

func (f *fakeStore) HasBodyHash(ctx context.Context, hash string) (bool, error) {
	return f.bodyHashes[hash], nil
}

func (f *fakeStore) EnqueueLifeSafety(ctx context.Context, e core.LifeSafetyQueueEntry) error {
	f.lifeSafety = append(f.lifeSafety, e)
	return nil
}

func (f *fakeStore) EnqueueMatchedTopic(ctx context.Context, e core.MatchedTopicQueueEntry) error {
	f.matched = append(f.matched, e)
	return nil
}

// fakeExtractor returns a canned body for every URL.
type fakeExtractor struct {
	text, html string
	err        error
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (string, string, error) {
	return f.text, f.html, f.err
}

// scriptedGenerator answers Generate calls in order against a list of
// canned responses keyed by a substring of the prompt, and GenerateJSON
// with a fixed payload.
type scriptedGenerator struct {
	responses map[string]string
	jsonReply string
	jsonErr   error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	for substr, resp := range g.responses {
		if strings.Contains(prompt, substr) {
			return resp, nil
		}
	}
	return "no", nil
}

func (g *scriptedGenerator) GenerateJSON(ctx context.Context, prompt string, schema json.RawMessage, opts llm.Options, target interface{}) error {
	if g.jsonErr != nil {
		return g.jsonErr
	}
	return json.Unmarshal([]byte(g.jsonReply), target)
}

const longBody = "Title: Something Happened\nBody: " +
	"This is a sufficiently long article body that easily clears both the " +
	"one hundred character minimum and the fifty word minimum the decision " +
	"cascade enforces before it will run any model prompts against the " +
	"extracted text, repeating words to pad out the length requirement " +
	"further still just in case more words are needed here.\n"

func TestProcessItemRoutesToMatchedTopicsQueue(t *testing.T) {
	fs := newFakeStore()
	gen := &scriptedGenerator{responses: map[string]string{
		"threat to human life or safety": "no",
		"primarily promotional":          "no",
		"about \"AI\"":                   "yes",
		"Summarize":                      "an AI summary",
		"Confirm this article":           "yes",
	}}
	w := New(0, "test-model", 0.2, fs, gen, &fakeExtractor{text: longBody, html: "<html></html>"},
		[]config.Topic{{Name: "AI", Prompt: "AI"}}, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/a", Title: "A Story"})

	if len(fs.matched) != 1 {
		t.Fatalf("expected 1 matched-topic entry, got %d: %+v", len(fs.matched), fs.matched)
	}
	if fs.matched[0].Topic != "AI" {
		t.Fatalf("expected topic AI, got %q", fs.matched[0].Topic)
	}
	if len(fs.lifeSafety) != 0 {
		t.Fatalf("expected no life-safety entries, got %d", len(fs.lifeSafety))
	}
}

func TestProcessItemRoutesToLifeSafetyQueue(t *testing.T) {
	fs := newFakeStore()
	gen := &scriptedGenerator{
		responses: map[string]string{
			"threat to human life or safety":            "yes",
			"genuinely describing a life-safety threat": "yes",
		},
		jsonReply: `{"regions":[{"continent":"North America","country":"United States","region":"California"}]}`,
	}
	w := New(0, "test-model", 0.2, fs, gen, &fakeExtractor{text: longBody, html: "<html></html>"},
		[]config.Topic{{Name: "AI", Prompt: "AI"}}, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/b", Title: "Disaster"})

	if len(fs.lifeSafety) != 1 {
		t.Fatalf("expected 1 life-safety entry, got %d", len(fs.lifeSafety))
	}
	if len(fs.matched) != 0 {
		t.Fatalf("expected no matched-topic entries, got %d", len(fs.matched))
	}
}

func TestProcessItemThreatWithUnrecognizedRegionFallsBackToTopics(t *testing.T) {
	fs := newFakeStore()
	gen := &scriptedGenerator{
		responses: map[string]string{
			"threat to human life or safety":            "yes",
			"genuinely describing a life-safety threat": "yes",
			"primarily promotional":                     "no",
		},
		jsonReply: `{"regions":[{"continent":"Antarctica","country":"","region":""}]}`,
	}
	w := New(0, "test-model", 0.2, fs, gen, &fakeExtractor{text: longBody, html: ""},
		nil, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/c", Title: "Remote"})

	if len(fs.lifeSafety) != 0 {
		t.Fatalf("expected no life-safety entries, got %d", len(fs.lifeSafety))
	}
	if len(fs.upserted) != 1 || fs.upserted[0].IsRelevant {
		t.Fatalf("expected a non-relevant article row, got %+v", fs.upserted)
	}
}

func TestProcessItemSkipsOldArticle(t *testing.T) {
	fs := newFakeStore()
	old := time.Now().Add(-10 * 24 * time.Hour)
	w := New(0, "test-model", 0.2, fs, &scriptedGenerator{}, &fakeExtractor{text: longBody},
		nil, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/d", PubDate: &old})

	if len(fs.upserted) != 1 || fs.upserted[0].IsRelevant {
		t.Fatalf("expected old article recorded as non-relevant, got %+v", fs.upserted)
	}
}

func TestProcessItemSkipsAlreadySeenTitleDomainHash(t *testing.T) {
	fs := newFakeStore()
	hash := hashText(domainOf("https://example.com/e") + "Seen")
	fs.titleHashes[hash] = true
	w := New(0, "test-model", 0.2, fs, &scriptedGenerator{}, &fakeExtractor{text: longBody},
		nil, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/e", Title: "Seen"})

	if len(fs.upserted) != 0 {
		t.Fatalf("expected no writes for an already-seen title/domain hash, got %+v", fs.upserted)
	}
}

func TestProcessItemAccessDeniedRecordsNonRelevant(t *testing.T) {
	fs := newFakeStore()
	w := New(0, "test-model", 0.2, fs, &scriptedGenerator{},
		&fakeExtractor{err: ErrAccessDenied}, nil, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/f", Title: "Blocked"})

	if len(fs.upserted) != 1 || fs.upserted[0].IsRelevant {
		t.Fatalf("expected access-denied article recorded as non-relevant, got %+v", fs.upserted)
	}
}

func TestProcessItemRejectsShortBody(t *testing.T) {
	fs := newFakeStore()
	w := New(0, "test-model", 0.2, fs, &scriptedGenerator{}, &fakeExtractor{text: "too short"},
		nil, DefaultPlaces())

	w.processItem(context.Background(), core.IngestQueueEntry{URL: "https://example.com/g", Title: "Tiny"})

	if len(fs.upserted) != 0 {
		t.Fatalf("expected no writes for a too-short body, got %+v", fs.upserted)
	}
}

func TestProcessItemExtractorErrorIsNotRecorded(t *testing.T) {
	fs := newFakeStore()
	w := New(0, "test-model", 0.2, fs, &scriptedGenerator{}, &fakeExtractor{err: errors.New("timeout")},
		nil, DefaultPlaces())

	// Cancel immediately so the retry loop's backoff sleeps short-circuit
	// instead of burning real wall-clock time in this test.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.processItem(ctx, core.IngestQueueEntry{URL: "https://example.com/h"})

	if len(fs.upserted) != 0 {
		t.Fatalf("expected transient extractor errors to leave no article row, got %+v", fs.upserted)
	}
}

func TestPlacesHierarchyContains(t *testing.T) {
	p := DefaultPlaces()
	if !p.Contains("North America", "", "") {
		t.Fatal("expected continent match")
	}
	if !p.Contains("", "Japan", "") {
		t.Fatal("expected country match")
	}
	if !p.Contains("", "", "Bavaria") {
		t.Fatal("expected region match")
	}
	if p.Contains("Narnia", "", "") {
		t.Fatal("did not expect a match for an unconfigured continent")
	}
}

func TestRollOrderDistribution(t *testing.T) {
	counts := map[core.DequeueOrder]int{}
	for i := 0; i < 1000; i++ {
		counts[rollOrder()]++
	}
	if counts[core.OrderNewest] == 0 || counts[core.OrderOldest] == 0 || counts[core.OrderRandom] == 0 {
		t.Fatalf("expected all three orderings to appear across 1000 rolls, got %+v", counts)
	}
}
