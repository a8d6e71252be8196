package similarity

import (
	"context"
	"testing"
	"time"

	"argus/internal/core"
	"argus/internal/store"
	"argus/internal/vectorstore"
)

type fakeVectors struct {
	searchResults []vectorstore.Match
	vectors       map[int64][]float32
}

func (f *fakeVectors) StorePoint(ctx context.Context, id int64, embedding []float32, payload vectorstore.Payload) error {
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, embedding []float32, limit int, minScore float64, window time.Duration) ([]vectorstore.Match, error) {
	return f.searchResults, nil
}

func (f *fakeVectors) GetVector(ctx context.Context, id int64) ([]float32, error) {
	return f.vectors[id], nil
}

type fakeDetails struct {
	details     map[int64]*store.ArticleDetails
	entityTypes map[int64]map[int64]core.EntityType
	candidates  []store.EntityArticleCandidate
}

func (f *fakeDetails) GetArticleDetailsByID(ctx context.Context, id int64) (*store.ArticleDetails, error) {
	d, ok := f.details[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeDetails) GetArticleEntityTypes(ctx context.Context, articleID int64) (map[int64]core.EntityType, error) {
	return f.entityTypes[articleID], nil
}

func (f *fakeDetails) FindArticlesByEntities(ctx context.Context, entityIDs []int64, limit int, sourceDate *time.Time) ([]store.EntityArticleCandidate, error) {
	return f.candidates, nil
}

func TestFindDropsSelfMatch(t *testing.T) {
	vectors := &fakeVectors{searchResults: []vectorstore.Match{{ID: 1, Score: 0.99}}}
	details := &fakeDetails{details: map[int64]*store.ArticleDetails{}}
	e := New(vectors, details)

	matches, _, err := e.Find(context.Background(), 1, []float32{1, 0}, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected the query article's own id to be dropped, got %+v", matches)
	}
}

func TestFindCombinesVectorAndEntityOverlap(t *testing.T) {
	vectors := &fakeVectors{searchResults: []vectorstore.Match{{ID: 2, Score: 0.95}}}
	details := &fakeDetails{
		details: map[int64]*store.ArticleDetails{
			2: {Title: "Related story", TinySummary: "tiny", R2URL: "https://example.com/2", Quality: 3},
		},
		entityTypes: map[int64]map[int64]core.EntityType{
			1: {100: core.EntityPerson, 101: core.EntityOrganization},
			2: {100: core.EntityPerson, 101: core.EntityOrganization},
		},
	}
	e := New(vectors, details)

	matches, reasons, err := e.Find(context.Background(), 1, []float32{1, 0}, []int64{100, 101}, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match with full entity overlap, got %d (reasons: %v)", len(matches), reasons)
	}
	if matches[0].ID != 2 || matches[0].Title != "Related story" {
		t.Fatalf("unexpected match: %+v", matches[0])
	}
	if matches[0].SimilarityScore < threshold {
		t.Fatalf("expected combined score above threshold, got %f", matches[0].SimilarityScore)
	}
}

func TestFindDropsBelowThresholdWithReason(t *testing.T) {
	vectors := &fakeVectors{searchResults: []vectorstore.Match{{ID: 3, Score: 0.81}}}
	details := &fakeDetails{
		details:     map[int64]*store.ArticleDetails{3: {Title: "Tangential"}},
		entityTypes: map[int64]map[int64]core.EntityType{1: {}, 3: {}},
	}
	e := New(vectors, details)

	matches, reasons, err := e.Find(context.Background(), 1, []float32{1, 0}, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no-entity-overlap article below threshold to be dropped, got %+v", matches)
	}
	if len(reasons) != 1 {
		t.Fatalf("expected one near-miss reason, got %v", reasons)
	}
}

func TestJaccard(t *testing.T) {
	a := map[int64]bool{1: true, 2: true}
	b := map[int64]bool{2: true, 3: true}
	if got := jaccard(a, b); got != 1.0/3.0 {
		t.Fatalf("jaccard = %f, want 1/3", got)
	}
	if got := jaccard(nil, nil); got != 0 {
		t.Fatalf("jaccard of two empty sets = %f, want 0", got)
	}
}

func TestTemporalProximityDecaysToZeroAtWindow(t *testing.T) {
	now := time.Now()
	atWindow := now.Add(-temporalWindow)
	if got := temporalProximity(&now, &atWindow); got != 0 {
		t.Fatalf("temporalProximity at exactly the window edge = %f, want 0", got)
	}
	sameInstant := now
	if got := temporalProximity(&now, &sameInstant); got != 1 {
		t.Fatalf("temporalProximity at zero distance = %f, want 1", got)
	}
}
