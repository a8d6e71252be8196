// Package clustering implements the cluster-assignment, summary, and merge
// business logic layered on top of the store's article_clusters primitives
// (spec component C8).
package clustering

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"argus/internal/core"
	"argus/internal/llm"
	"argus/internal/store"
)

// assignThreshold and mergeThreshold are the Jaccard cutoffs spec.md §4.8
// names for join-vs-create and merge detection respectively.
const (
	assignThreshold = 0.60
	mergeThreshold  = 0.70
	mergeWindow     = 14 * 24 * time.Hour
	summarySize     = 10
)

// Generator is the subset of *llm.Client the summary generator calls.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// Store is the subset of *store.Store the clustering engine needs.
type Store interface {
	CreateCluster(ctx context.Context, primaryEntityIDs []int64) (*core.Cluster, error)
	GetCluster(ctx context.Context, id int64) (*core.Cluster, error)
	GetActiveClusters(ctx context.Context) ([]core.Cluster, error)
	AssignArticleToCluster(ctx context.Context, clusterID, articleID int64, similarity float64) error
	GetClusterArticlesForSummary(ctx context.Context, clusterID int64, limit int) ([]store.ClusterArticle, error)
	SetClusterSummary(ctx context.Context, clusterID int64, summary string) error
	SetClusterImportance(ctx context.Context, clusterID int64, score float64) error
	MergeClusters(ctx context.Context, sourceA, sourceB int64, unionEntityIDs []int64, reason string) (int64, error)
	GetEntitiesByIDs(ctx context.Context, ids []int64) ([]core.Entity, error)
	GetArticleDetailsByID(ctx context.Context, id int64) (*store.ArticleDetails, error)
}

// Engine owns cluster assignment, summary regeneration, significance, and
// merge detection for one article at a time.
type Engine struct {
	store Store
	llm   Generator
}

// New builds a clustering Engine.
func New(s Store, generator Generator) *Engine {
	return &Engine{store: s, llm: generator}
}

// Assign runs the C8 assignment rule for a freshly analyzed article: join
// the argmax active cluster if its Jaccard against primaryEntityIDs is at
// or above 0.60, otherwise start a new cluster. It returns the cluster the
// article landed in.
func (e *Engine) Assign(ctx context.Context, articleID int64, primaryEntityIDs []int64) (*core.Cluster, error) {
	active, err := e.store.GetActiveClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active clusters: %w", err)
	}

	query := toSet(primaryEntityIDs)
	var best *core.Cluster
	var bestScore float64
	for i := range active {
		score := jaccard(query, toSet(active[i].PrimaryEntityIDs))
		if score > bestScore {
			bestScore = score
			best = &active[i]
		}
	}

	if best != nil && bestScore >= assignThreshold {
		if err := e.store.AssignArticleToCluster(ctx, best.ID, articleID, bestScore); err != nil {
			return nil, fmt.Errorf("assigning article %d to cluster %d: %w", articleID, best.ID, err)
		}
		return e.store.GetCluster(ctx, best.ID)
	}

	created, err := e.store.CreateCluster(ctx, primaryEntityIDs)
	if err != nil {
		return nil, fmt.Errorf("creating cluster for article %d: %w", articleID, err)
	}
	if err := e.store.AssignArticleToCluster(ctx, created.ID, articleID, 1.0); err != nil {
		return nil, fmt.Errorf("assigning article %d to new cluster %d: %w", articleID, created.ID, err)
	}
	return e.store.GetCluster(ctx, created.ID)
}

// RefreshSummary regenerates a cluster's summary when needs_summary_update
// is set: it pulls up to 10 most-recent-plus-highest-similarity articles,
// names the cluster's primary entities, runs the journalistic-summary
// prompt at low temperature, and persists the result.
func (e *Engine) RefreshSummary(ctx context.Context, clusterID int64) error {
	cluster, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("loading cluster %d: %w", clusterID, err)
	}
	if !cluster.NeedsSummaryUpdate {
		return nil
	}

	articles, err := e.store.GetClusterArticlesForSummary(ctx, clusterID, summarySize)
	if err != nil {
		return fmt.Errorf("loading cluster %d articles: %w", clusterID, err)
	}
	entities, err := e.store.GetEntitiesByIDs(ctx, cluster.PrimaryEntityIDs)
	if err != nil {
		return fmt.Errorf("loading cluster %d entities: %w", clusterID, err)
	}

	names := make([]string, len(entities))
	for i, en := range entities {
		names[i] = en.Name
	}
	summaries := make([]string, len(articles))
	for i, a := range articles {
		summaries[i] = a.TinySummary
	}

	prompt := fmt.Sprintf(llm.PromptClusterSummary, strings.Join(names, ", "), strings.Join(summaries, "\n---\n"))
	summary, err := e.llm.Generate(ctx, prompt, llm.Options{Temperature: 0.2})
	if err != nil {
		return fmt.Errorf("generating cluster %d summary: %w", clusterID, err)
	}

	return e.store.SetClusterSummary(ctx, clusterID, summary)
}

// RefreshSignificance recomputes and persists a cluster's importance_score
// using spec.md's
// ln(1+article_count)*(1+avg_quality/4)*1/(1+days_since_update/7).
func (e *Engine) RefreshSignificance(ctx context.Context, clusterID int64) error {
	cluster, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("loading cluster %d: %w", clusterID, err)
	}

	articles, err := e.store.GetClusterArticlesForSummary(ctx, clusterID, cluster.ArticleCount)
	if err != nil {
		return fmt.Errorf("loading cluster %d articles: %w", clusterID, err)
	}

	var qualitySum float64
	var qualityCount int
	for _, a := range articles {
		details, err := e.store.GetArticleDetailsByID(ctx, a.ArticleID)
		if err != nil || details == nil {
			continue
		}
		qualitySum += float64(details.Quality)
		qualityCount++
	}
	avgQuality := 0.0
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}

	daysSinceUpdate := time.Since(cluster.LastUpdated).Hours() / 24
	score := math.Log(1+float64(cluster.ArticleCount)) * (1 + avgQuality/4) * (1 / (1 + daysSinceUpdate/7))

	return e.store.SetClusterImportance(ctx, clusterID, score)
}

// CheckMerge runs the C8 merge-detection rule for a just-updated cluster:
// among other active clusters at or above 0.70 Jaccard against this one's
// primary entities, if exactly one candidate exists and both clusters'
// most-recent-article dates fall within 14 days of each other, merge them
// into a new cluster with the union primary entity set. It returns the id
// the article's cluster now lives under (unchanged if no merge occurred).
func (e *Engine) CheckMerge(ctx context.Context, clusterID int64) (int64, error) {
	cluster, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		return 0, fmt.Errorf("loading cluster %d: %w", clusterID, err)
	}

	active, err := e.store.GetActiveClusters(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active clusters: %w", err)
	}

	query := toSet(cluster.PrimaryEntityIDs)
	var candidates []core.Cluster
	for _, c := range active {
		if c.ID == clusterID {
			continue
		}
		if jaccard(query, toSet(c.PrimaryEntityIDs)) >= mergeThreshold {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) != 1 {
		return clusterID, nil
	}
	other := candidates[0]

	if !withinWindow(cluster.LastUpdated, other.LastUpdated, mergeWindow) {
		return clusterID, nil
	}

	union := unionIDs(cluster.PrimaryEntityIDs, other.PrimaryEntityIDs)
	reason := fmt.Sprintf("primary-entity Jaccard >= %.2f, most-recent dates within %s", mergeThreshold, mergeWindow)
	destID, err := e.store.MergeClusters(ctx, clusterID, other.ID, union, reason)
	if err != nil {
		return 0, fmt.Errorf("merging clusters %d and %d: %w", clusterID, other.ID, err)
	}

	if err := e.RefreshSummary(ctx, destID); err != nil {
		return 0, err
	}
	if err := e.RefreshSignificance(ctx, destID); err != nil {
		return 0, err
	}
	return destID, nil
}

func toSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func unionIDs(a, b []int64) []int64 {
	seen := toSet(a)
	out := append([]int64{}, a...)
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func jaccard(a, b map[int64]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	seen := map[int64]bool{}
	var intersection int
	for id := range a {
		seen[id] = true
	}
	for id := range b {
		seen[id] = true
	}
	for id := range a {
		if b[id] {
			intersection++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(seen))
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}
