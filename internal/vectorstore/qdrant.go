package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements Store against a running Qdrant instance over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

// NewQdrantStore dials url (host:port form) and ensures the named
// collection exists with the given cosine-distance dimensionality,
// creating it on first run.
func NewQdrantStore(ctx context.Context, rawURL, collection string, dimensions int) (*QdrantStore, error) {
	host, port, err := splitHostPort(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing QDRANT_URL %q: %w", rawURL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant at %s:%d: %w", host, port, err)
	}

	s := &QdrantStore{client: client, collection: collection, dimensions: dimensions}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", s.collection, err)
	}
	return nil
}

// StorePoint upserts embedding and payload for id.
func (s *QdrantStore) StorePoint(ctx context.Context, id int64, embedding []float32, payload Payload) error {
	if len(embedding) != s.dimensions {
		return ErrDimensionMismatch{Got: len(embedding), Want: s.dimensions}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(uint64(id)),
				Vectors: qdrant.NewVectors(embedding...),
				Payload: payloadToQdrant(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upserting point %d: %w", id, err)
	}
	return nil
}

// Search runs cosine similarity search with a recency filter.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, limit int, minScore float64, recencyWindow time.Duration) ([]Match, error) {
	if len(embedding) != s.dimensions {
		return nil, ErrDimensionMismatch{Got: len(embedding), Want: s.dimensions}
	}

	cutoff := time.Now().UTC().Add(-recencyWindow).Format(time.RFC3339)
	limit64 := uint64(limit)
	scoreThreshold := float32(minScore)

	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit64,
		ScoreThreshold: &scoreThreshold,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewRange("pub_date", &qdrant.Range{Gt: ptr(float64(mustParseUnix(cutoff)))}),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %q: %w", s.collection, err)
	}

	matches := make([]Match, 0, len(result))
	for _, point := range result {
		matches = append(matches, Match{
			ID:      int64(point.Id.GetNum()),
			Score:   float64(point.Score),
			Payload: payloadFromQdrant(point.Payload),
		})
	}
	return matches, nil
}

// GetVector returns the stored embedding for id, or nil if absent.
func (s *QdrantStore) GetVector(ctx context.Context, id int64) ([]float32, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching point %d: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points[0].Vectors.GetVector().GetData(), nil
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	values := map[string]*qdrant.Value{
		"quality": qdrant.NewValueInt(int64(p.Quality)),
	}
	if p.PubDate != nil {
		values["pub_date"] = qdrant.NewValueDouble(float64(p.PubDate.Unix()))
	}
	if p.EventDate != nil {
		values["event_date"] = qdrant.NewValueDouble(float64(p.EventDate.Unix()))
	}
	if p.Category != "" {
		values["category"] = qdrant.NewValueString(p.Category)
	}
	if len(p.EntityIDs) > 0 {
		ids := make([]*qdrant.Value, len(p.EntityIDs))
		for i, id := range p.EntityIDs {
			ids[i] = qdrant.NewValueInt(id)
		}
		values["entity_ids"] = qdrant.NewValueList(ids)
	}
	return values
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	var p Payload
	if v, ok := values["pub_date"]; ok {
		t := time.Unix(int64(v.GetDoubleValue()), 0).UTC()
		p.PubDate = &t
	}
	if v, ok := values["event_date"]; ok {
		t := time.Unix(int64(v.GetDoubleValue()), 0).UTC()
		p.EventDate = &t
	}
	if v, ok := values["category"]; ok {
		p.Category = v.GetStringValue()
	}
	if v, ok := values["quality"]; ok {
		p.Quality = int8(v.GetIntegerValue())
	}
	if v, ok := values["entity_ids"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			p.EntityIDs = append(p.EntityIDs, item.GetIntegerValue())
		}
	}
	return p
}

func splitHostPort(rawURL string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(rawURL)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("non-numeric port %q: %w", portStr, err)
	}
	return host, port, nil
}

func ptr[T any](v T) *T { return &v }

func mustParseUnix(rfc3339 string) int64 {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return 0
	}
	return t.Unix()
}
