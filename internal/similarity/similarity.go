// Package similarity implements the blended vector+entity similarity
// search the analysis battery uses to enrich a freshly analyzed article
// with a ranked list of related coverage (spec component C7).
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"argus/internal/core"
	"argus/internal/store"
	"argus/internal/vectorstore"
)

// per-type overlap weights; these must sum to 1.0.
const (
	weightPerson   = 0.30
	weightOrg      = 0.20
	weightLocation = 0.15
	weightEvent    = 0.15
	weightTemporal = 0.20

	vectorWeight = 0.6
	entityWeight = 0.4

	vectorCandidateLimit = 2000
	vectorMinScore       = 0.80
	vectorWindow         = 14 * 24 * time.Hour
	temporalWindow       = 14 * 24 * time.Hour

	threshold = 0.75
)

// ArticleDetailsFetcher looks up the display fields a SimilarArticle needs.
type ArticleDetailsFetcher interface {
	GetArticleDetailsByID(ctx context.Context, id int64) (*store.ArticleDetails, error)
	GetArticleEntityTypes(ctx context.Context, articleID int64) (map[int64]core.EntityType, error)
	FindArticlesByEntities(ctx context.Context, entityIDs []int64, limit int, sourceDate *time.Time) ([]store.EntityArticleCandidate, error)
}

// Engine combines a vector index with the entity-overlap candidate store
// to produce the SimilarArticle list spec.md §4.7/§6 describes.
type Engine struct {
	vectors vectorstore.Store
	store   ArticleDetailsFetcher
}

// New builds a similarity Engine over a vector index and the entity-aware
// candidate store.
func New(vectors vectorstore.Store, store ArticleDetailsFetcher) *Engine {
	return &Engine{vectors: vectors, store: store}
}

// candidate accumulates every signal Find gathers about one article id
// before it is scored.
type candidate struct {
	id             int64
	vectorScore    float64
	haveVector     bool
	primaryOverlap int
	totalOverlap   int
	pubDate        *time.Time
	category       string
}

// Find runs the full C7 pipeline for a just-analyzed article and returns
// up to limit ranked matches plus the near-miss reasons for everything
// that was dropped below threshold.
func (e *Engine) Find(ctx context.Context, articleID int64, embedding []float32, entityIDs []int64, eventDate *time.Time, limit int) ([]core.SimilarArticle, []string, error) {
	candidates := map[int64]*candidate{}

	vectorMatches, err := e.vectors.Search(ctx, embedding, vectorCandidateLimit, vectorMinScore, vectorWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("vector candidate search: %w", err)
	}
	for _, m := range vectorMatches {
		candidates[m.ID] = &candidate{id: m.ID, vectorScore: m.Score, haveVector: true, pubDate: m.Payload.PubDate, category: m.Payload.Category}
	}

	var entityMatches []store.EntityArticleCandidate
	if len(entityIDs) > 0 {
		entityMatches, err = e.store.FindArticlesByEntities(ctx, entityIDs, vectorCandidateLimit, eventDate)
		if err != nil {
			return nil, nil, fmt.Errorf("entity candidate search: %w", err)
		}
	}
	for _, m := range entityMatches {
		c, ok := candidates[m.ArticleID]
		if !ok {
			c = &candidate{id: m.ArticleID, pubDate: m.PubDate, category: m.Category}
			candidates[m.ArticleID] = c
		}
		c.primaryOverlap = m.PrimaryCount
		c.totalOverlap = m.TotalCount
	}

	queryEntitiesByType := entityTypeSets(ctx, e.store, articleID)

	var reasons []string
	var scored []core.SimilarArticle
	for id, c := range candidates {
		if id == articleID {
			continue // drop self-matches
		}

		vectorScore := c.vectorScore
		if !c.haveVector {
			stored, err := e.vectors.GetVector(ctx, id)
			if err == nil && len(stored) > 0 {
				vectorScore = cosine(embedding, stored)
			}
		}

		overlap := entityTypeSets(ctx, e.store, id)
		entityScore, personOverlap, orgOverlap, locOverlap, eventOverlap, temporalProximity, overlapCount := typeOverlapScore(queryEntitiesByType, overlap, eventDate, c.pubDate)

		if vectorScore == 0 && entityScore == 0 {
			reasons = append(reasons, fmt.Sprintf("article %d: no entity overlap, low vector similarity", id))
			continue
		}
		if overlapCount == 0 && vectorScore < vectorMinScore {
			reasons = append(reasons, fmt.Sprintf("article %d: no entity overlap", id))
			continue
		}

		combined := vectorWeight*vectorScore + entityWeight*entityScore
		if combined < threshold {
			if overlapCount == 0 {
				reasons = append(reasons, fmt.Sprintf("article %d: no entity overlap", id))
			} else if entityScore < 0.3 {
				reasons = append(reasons, fmt.Sprintf("article %d: weak entity similarity", id))
			} else if vectorScore < vectorMinScore {
				reasons = append(reasons, fmt.Sprintf("article %d: low vector similarity", id))
			} else {
				reasons = append(reasons, fmt.Sprintf("article %d: combined below threshold", id))
			}
			continue
		}

		details, err := e.store.GetArticleDetailsByID(ctx, id)
		if err != nil || details == nil {
			continue
		}

		formula := fmt.Sprintf("0.6*vector(%.3f) + 0.4*entity(%.3f) = %.3f", vectorScore, entityScore, combined)
		scored = append(scored, core.SimilarArticle{
			ID:                  id,
			JSONURL:             details.R2URL,
			Title:               details.Title,
			TinySummary:         details.TinySummary,
			Category:            c.category,
			PublishedDate:       c.pubDate,
			QualityScore:        details.Quality,
			SimilarityScore:     combined,
			VectorScore:         vectorScore,
			VectorActiveDims:    len(embedding),
			VectorMagnitude:     magnitude(embedding),
			EntityOverlapCount:  overlapCount,
			PrimaryOverlapCount: c.primaryOverlap,
			PersonOverlap:       personOverlap,
			OrgOverlap:          orgOverlap,
			LocationOverlap:     locOverlap,
			EventOverlap:        eventOverlap,
			TemporalProximity:   temporalProximity,
			SimilarityFormula:   formula,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].SimilarityScore > scored[j].SimilarityScore })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, reasons, nil
}

// entityTypeSets buckets an article's linked entity ids by type so overlap
// can be computed per type rather than across the whole entity set.
func entityTypeSets(ctx context.Context, s ArticleDetailsFetcher, articleID int64) map[core.EntityType]map[int64]bool {
	out := map[core.EntityType]map[int64]bool{}
	types, err := s.GetArticleEntityTypes(ctx, articleID)
	if err != nil {
		return out
	}
	for id, t := range types {
		if out[t] == nil {
			out[t] = map[int64]bool{}
		}
		out[t][id] = true
	}
	return out
}

// typeOverlapScore computes the weighted per-type overlap fraction plus
// the raw per-type Jaccard components the ArticleMatch JSON carries.
func typeOverlapScore(query, candidate map[core.EntityType]map[int64]bool, eventDate, candidateDate *time.Time) (score, person, org, location, event, temporal float64, overlapCount int) {
	person = jaccard(query[core.EntityPerson], candidate[core.EntityPerson])
	org = jaccard(query[core.EntityOrganization], candidate[core.EntityOrganization])
	location = jaccard(query[core.EntityLocation], candidate[core.EntityLocation])
	event = jaccard(query[core.EntityEvent], candidate[core.EntityEvent])
	temporal = temporalProximity(eventDate, candidateDate)

	for t, ids := range query {
		for id := range ids {
			if candidate[t][id] {
				overlapCount++
			}
		}
	}

	score = weightPerson*person + weightOrg*org + weightLocation*location + weightEvent*event + weightTemporal*temporal
	return score, person, org, location, event, temporal, overlapCount
}

func jaccard(a, b map[int64]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection, union int
	seen := map[int64]bool{}
	for id := range a {
		seen[id] = true
	}
	for id := range b {
		seen[id] = true
	}
	union = len(seen)
	for id := range a {
		if b[id] {
			intersection++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// temporalProximity decays linearly from 1.0 at zero distance to 0.0 at
// temporalWindow, and is 0 when either date is unknown.
func temporalProximity(a, b *time.Time) float64 {
	if a == nil || b == nil {
		return 0
	}
	delta := a.Sub(*b)
	if delta < 0 {
		delta = -delta
	}
	frac := 1 - float64(delta)/float64(temporalWindow)
	if frac < 0 {
		return 0
	}
	return frac
}

func cosine(a []float32, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
