package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"argus/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argus.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueDequeueIngest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.EnqueueIngest(ctx, "https://example.com/a", "A", nil)
	if err != nil || !ok {
		t.Fatalf("EnqueueIngest = %v, %v, want true, nil", ok, err)
	}

	ok, err = s.EnqueueIngest(ctx, "https://example.com/a", "A", nil)
	if err != nil {
		t.Fatalf("EnqueueIngest second call: %v", err)
	}
	if ok {
		t.Error("expected duplicate enqueue to return false")
	}

	entry, err := s.DequeueIngest(ctx, core.OrderOldest)
	if err != nil {
		t.Fatalf("DequeueIngest failed: %v", err)
	}
	if entry == nil || entry.URL != "https://example.com/a" {
		t.Fatalf("unexpected dequeue result: %+v", entry)
	}

	second, err := s.DequeueIngest(ctx, core.OrderOldest)
	if err != nil {
		t.Fatalf("DequeueIngest on empty queue: %v", err)
	}
	if second != nil {
		t.Errorf("expected nil on empty queue, got %+v", second)
	}
}

func TestEnqueueIngestSkipsFinalizedArticle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://example.com/seen", IsRelevant: false}); err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}

	ok, err := s.EnqueueIngest(ctx, "https://example.com/seen", "", nil)
	if err != nil {
		t.Fatalf("EnqueueIngest failed: %v", err)
	}
	if ok {
		t.Error("expected enqueue of an already-finalized URL to return false")
	}
}

func TestUpsertArticleIdempotentOnNormalizedURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://Example.com/story/", IsRelevant: true, Analysis: "{}", TinySummary: "x"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	id2, err := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://example.com/story", IsRelevant: true, Analysis: "{}", TinySummary: "y"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id for normalized-equal URLs, got %d and %d", id1, id2)
	}

	details, err := s.GetArticleDetailsByID(ctx, id1)
	if err != nil {
		t.Fatalf("GetArticleDetailsByID failed: %v", err)
	}
	if details.TinySummary != "y" {
		t.Errorf("expected second upsert's summary to win, got %q", details.TinySummary)
	}
}

func TestHasBodyAndTitleDomainHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertArticle(ctx, UpsertArticleParams{
		URL: "https://example.com/x", IsRelevant: true, BodyHash: "b1", TitleDomainHash: "t1",
	}); err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}

	has, err := s.HasBodyHash(ctx, "b1")
	if err != nil || !has {
		t.Errorf("HasBodyHash(b1) = %v, %v, want true, nil", has, err)
	}
	has, err = s.HasTitleDomainHash(ctx, "missing")
	if err != nil || has {
		t.Errorf("HasTitleDomainHash(missing) = %v, %v, want false, nil", has, err)
	}
}

func TestAddAliasSkipsIdenticalNormalizedForm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.AddAlias(ctx, nil, "Acme Corp", "acme", "Acme Corp", "acme", core.EntityOrganization, "pattern:1", 0.9, core.AliasPending)
	if err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}
	if res.Inserted {
		t.Error("expected identical normalized forms to be skipped, not inserted")
	}
}

func TestNegativeMatchTakesPrecedenceOverAlias(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddNegativeMatch(ctx, "american", "americans", core.EntityPerson); err != nil {
		t.Fatalf("AddNegativeMatch failed: %v", err)
	}

	res, err := s.AddAlias(ctx, nil, "American", "american", "Americans", "americans", core.EntityPerson, "pattern:2", 0.8, core.AliasApproved)
	if err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}
	if res.Inserted {
		t.Error("expected alias insertion to be refused once a negative match exists")
	}

	equivalent, err := s.AreNamesEquivalent(ctx, "american", "americans", core.EntityPerson)
	if err != nil {
		t.Fatalf("AreNamesEquivalent failed: %v", err)
	}
	if equivalent {
		t.Error("expected negative match to make names non-equivalent")
	}
}

func TestAreNamesEquivalentSymmetricAfterApproval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddAlias(ctx, nil, "International Business Machines", "internationalbusinessmachin", "IBM", "ibm", core.EntityOrganization, "pattern:3", 0.95, core.AliasApproved); err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}

	ab, err := s.AreNamesEquivalent(ctx, "internationalbusinessmachin", "ibm", core.EntityOrganization)
	if err != nil {
		t.Fatalf("AreNamesEquivalent(a,b) failed: %v", err)
	}
	ba, err := s.AreNamesEquivalent(ctx, "ibm", "internationalbusinessmachin", core.EntityOrganization)
	if err != nil {
		t.Fatalf("AreNamesEquivalent(b,a) failed: %v", err)
	}
	if ab != ba || !ab {
		t.Errorf("expected symmetric, true equivalence, got ab=%v ba=%v", ab, ba)
	}
}

func TestClusterAssignmentAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster, err := s.CreateCluster(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	articleID, err := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://example.com/c1", IsRelevant: true})
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if err := s.AssignArticleToCluster(ctx, cluster.ID, articleID, 0.82); err != nil {
		t.Fatalf("AssignArticleToCluster failed: %v", err)
	}

	got, err := s.GetCluster(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if got.ArticleCount != 1 {
		t.Errorf("expected article_count 1, got %d", got.ArticleCount)
	}
	if !got.NeedsSummaryUpdate {
		t.Error("expected needs_summary_update to be set after assignment")
	}
}

func TestMergeClustersMarksSourcesTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateCluster(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("CreateCluster a: %v", err)
	}
	b, err := s.CreateCluster(ctx, []int64{2, 3})
	if err != nil {
		t.Fatalf("CreateCluster b: %v", err)
	}

	artA, _ := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://example.com/m1", IsRelevant: true})
	artB, _ := s.UpsertArticle(ctx, UpsertArticleParams{URL: "https://example.com/m2", IsRelevant: true})
	if err := s.AssignArticleToCluster(ctx, a.ID, artA, 1.0); err != nil {
		t.Fatalf("assign a: %v", err)
	}
	if err := s.AssignArticleToCluster(ctx, b.ID, artB, 1.0); err != nil {
		t.Fatalf("assign b: %v", err)
	}

	dest, err := s.MergeClusters(ctx, a.ID, b.ID, []int64{1, 2, 3}, "jaccard 0.75")
	if err != nil {
		t.Fatalf("MergeClusters failed: %v", err)
	}

	destCluster, err := s.GetCluster(ctx, dest)
	if err != nil {
		t.Fatalf("GetCluster(dest) failed: %v", err)
	}
	if destCluster.ArticleCount != 2 {
		t.Errorf("expected merged cluster to carry both articles, got article_count %d", destCluster.ArticleCount)
	}

	active, err := s.GetActiveClusters(ctx)
	if err != nil {
		t.Fatalf("GetActiveClusters failed: %v", err)
	}
	for _, c := range active {
		if c.ID == a.ID || c.ID == b.ID {
			t.Errorf("merged source cluster %d still reported active", c.ID)
		}
	}
}

func TestSubscribeDuplicateReturnsAlreadyPresent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deviceID, err := s.UpsertDevice(ctx, "token-1")
	if err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if err := s.Subscribe(ctx, deviceID, "AI", core.PriorityHigh); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	if err := s.Subscribe(ctx, deviceID, "AI", core.PriorityHigh); err == nil {
		t.Error("expected duplicate subscribe to fail")
	}
}

func TestFetchDevicesForTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deviceID, err := s.UpsertDevice(ctx, "token-2")
	if err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if err := s.Subscribe(ctx, deviceID, "Climate", core.PriorityLow); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	subs, err := s.FetchDevicesForTopic(ctx, "Climate")
	if err != nil {
		t.Fatalf("FetchDevicesForTopic failed: %v", err)
	}
	if len(subs) != 1 || subs[0].Token != "token-2" || subs[0].Priority != core.PriorityLow {
		t.Errorf("unexpected subscribers: %+v", subs)
	}
}

func TestCleanIngestRemovesFinalizedAndStaleEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueIngest(ctx, "https://example.com/stale", "stale", nil); err != nil {
		t.Fatalf("EnqueueIngest failed: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE ingest_queue SET enqueued_at = ? WHERE url = ?`,
		time.Now().UTC().Add(-30*24*time.Hour).Format(time.RFC3339), "https://example.com/stale"); err != nil {
		t.Fatalf("backdating enqueued_at failed: %v", err)
	}

	removed, err := s.CleanIngest(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanIngest failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row removed, got %d", removed)
	}
}
