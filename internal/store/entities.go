package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"argus/internal/core"
)

// UpsertEntity inserts or updates an entity keyed on (normalized_name, type).
func (s *Store) UpsertEntity(ctx context.Context, name string, entityType core.EntityType, normalizedName string, parentID *int64) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO entities (name, normalized_name, type, parent_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(normalized_name, type) DO UPDATE SET
				name = excluded.name,
				parent_id = COALESCE(excluded.parent_id, entities.parent_id)`,
			name, normalizedName, string(entityType), nullParent(parentID))
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT id FROM entities WHERE normalized_name = ? AND type = ?`, normalizedName, string(entityType)).Scan(&id)
	})
	return id, err
}

func nullParent(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// ProcessExtraction consumes an entity-extraction payload: it upserts every
// entity, links each to the article with its importance, and - if the
// payload carried an event date - updates the article's event_date. It
// returns the ids of every entity it touched.
func (s *Store) ProcessExtraction(ctx context.Context, articleID int64, result core.ExtractionResult) ([]int64, error) {
	ids := make([]int64, 0, len(result.Entities))
	for _, e := range result.Entities {
		entityID, err := s.UpsertEntity(ctx, e.Name, e.Type, e.NormalizedName, nil)
		if err != nil {
			return ids, fmt.Errorf("upserting entity %q: %w", e.Name, err)
		}
		err = withRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO article_entities (article_id, entity_id, importance, context)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(article_id, entity_id) DO UPDATE SET importance = excluded.importance`,
				articleID, entityID, string(e.Importance), "")
			return err
		})
		if err != nil {
			return ids, fmt.Errorf("linking entity %q to article %d: %w", e.Name, articleID, err)
		}
		ids = append(ids, entityID)
	}

	if result.EventDate != "" {
		if t, err := time.Parse(time.RFC3339, result.EventDate); err == nil {
			if err := withRetry(ctx, func() error {
				_, err := s.db.ExecContext(ctx, `UPDATE articles SET event_date = ? WHERE id = ?`, t.UTC().Format(time.RFC3339), articleID)
				return err
			}); err != nil {
				return ids, fmt.Errorf("updating event_date for article %d: %w", articleID, err)
			}
		}
	}
	return ids, nil
}

// GetArticleEntities lists every entity linked to an article.
func (s *Store) GetArticleEntities(ctx context.Context, articleID int64) ([]core.ArticleEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id, entity_id, importance, context FROM article_entities WHERE article_id = ?`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ArticleEntity
	for rows.Next() {
		var ae core.ArticleEntity
		var importance string
		var ctxStr sql.NullString
		if err := rows.Scan(&ae.ArticleID, &ae.EntityID, &importance, &ctxStr); err != nil {
			return nil, err
		}
		ae.Importance = core.Importance(importance)
		ae.Context = ctxStr.String
		out = append(out, ae)
	}
	return out, rows.Err()
}

// GetEntitiesByIDs loads entity rows for a set of ids, in no particular
// order. Missing ids are silently omitted. The cluster summary generator
// uses this to turn a primary-entity-id set back into display names
// partitioned by type.
func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []int64) ([]core.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, name, normalized_name, type, parent_id FROM entities WHERE id IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Entity
	for rows.Next() {
		var e core.Entity
		var t string
		var parent sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Name, &e.NormalizedName, &t, &parent); err != nil {
			return nil, err
		}
		e.Type = core.EntityType(t)
		if parent.Valid {
			id := parent.Int64
			e.ParentID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetArticleEntityTypes returns the type of every entity linked to an
// article, keyed by entity id. The similarity engine uses this to bucket
// overlap by entity type (PERSON, ORGANIZATION, ...) rather than just by id.
func (s *Store) GetArticleEntityTypes(ctx context.Context, articleID int64) (map[int64]core.EntityType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.type
		FROM article_entities ae
		JOIN entities e ON e.id = ae.entity_id
		WHERE ae.article_id = ?`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]core.EntityType{}
	for rows.Next() {
		var id int64
		var t string
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		out[id] = core.EntityType(t)
	}
	return out, rows.Err()
}

// EntityArticleCandidate is one row returned by FindArticlesByEntities: an
// article id plus its overlap counts against the query entity set.
type EntityArticleCandidate struct {
	ArticleID    int64
	PubDate      *time.Time
	Category     string
	PrimaryCount int
	TotalCount   int
}

// FindArticlesByEntities returns articles sharing any of entityIDs, with
// primary/total overlap counts, optionally windowed to [sourceDate-14d,
// sourceDate+1d] against each candidate's event_date (falling back to
// pub_date).
func (s *Store) FindArticlesByEntities(ctx context.Context, entityIDs []int64, limit int, sourceDate *time.Time) ([]EntityArticleCandidate, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(entityIDs)*2)
	args := make([]interface{}, 0, len(entityIDs)+2)
	for i, id := range entityIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.pub_date, a.topic,
		       SUM(CASE WHEN ae.importance = 'PRIMARY' THEN 1 ELSE 0 END) AS primary_count,
		       COUNT(*) AS total_count,
		       COALESCE(a.event_date, a.pub_date) AS window_date
		FROM article_entities ae
		JOIN articles a ON a.id = ae.article_id
		WHERE ae.entity_id IN (%s)
		GROUP BY a.id
		ORDER BY primary_count DESC, total_count DESC
		LIMIT ?`, string(placeholders))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityArticleCandidate
	var windowDates []*time.Time
	for rows.Next() {
		var c EntityArticleCandidate
		var pd, topic, wd sql.NullString
		if err := rows.Scan(&c.ArticleID, &pd, &topic, &c.PrimaryCount, &c.TotalCount, &wd); err != nil {
			return nil, err
		}
		c.PubDate = parseTime(pd)
		c.Category = topic.String
		out = append(out, c)
		windowDates = append(windowDates, parseTime(wd))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if sourceDate == nil {
		return out, nil
	}
	windowStart := sourceDate.AddDate(0, 0, -14)
	windowEnd := sourceDate.AddDate(0, 0, 1)
	filtered := out[:0]
	for i, c := range out {
		d := windowDates[i]
		if d == nil {
			continue
		}
		if d.Before(windowStart) || d.After(windowEnd) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered, nil
}

// --- Aliases and negative matches ---------------------------------------

// AddAliasResult distinguishes a real insert from a deliberate skip,
// replacing the source's "dummy id 0" convention with an explicit variant.
type AddAliasResult struct {
	Inserted bool
	ID       int64
	Reason   string // set when Inserted is false
}

// AddAlias records that aliasText refers to canonicalName within
// entityType. Both names must already be normalized by the caller. An
// identical-normalized-form pair, or a pair already asserted as a negative
// match, is skipped rather than inserted.
func (s *Store) AddAlias(ctx context.Context, entityID *int64, canonicalName, normalizedCanonical, aliasText, normalizedAlias string, entityType core.EntityType, source string, confidence float64, status core.AliasStatus) (AddAliasResult, error) {
	if normalizedCanonical == normalizedAlias {
		return AddAliasResult{Reason: "identical normalized form"}, nil
	}
	negative, err := s.IsNegativeMatch(ctx, normalizedCanonical, normalizedAlias, entityType)
	if err != nil {
		return AddAliasResult{}, err
	}
	if negative {
		return AddAliasResult{Reason: "negative match"}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var id int64
	err = withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO entity_aliases (entity_id, canonical_name, normalized_canonical, alias_text, normalized_alias, entity_type, source, confidence, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(normalized_canonical, normalized_alias, entity_type) DO UPDATE SET
				entity_id = COALESCE(excluded.entity_id, entity_aliases.entity_id),
				source = excluded.source,
				confidence = MAX(entity_aliases.confidence, excluded.confidence),
				status = CASE
					WHEN excluded.status = 'APPROVED' OR entity_aliases.status = 'APPROVED' THEN 'APPROVED'
					WHEN excluded.status = 'REJECTED' OR entity_aliases.status = 'REJECTED' THEN 'REJECTED'
					ELSE excluded.status
				END`,
			nullParent(entityID), canonicalName, normalizedCanonical, aliasText, normalizedAlias,
			string(entityType), source, confidence, string(status), now)
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `
			SELECT id FROM entity_aliases WHERE normalized_canonical = ? AND normalized_alias = ? AND entity_type = ?`,
			normalizedCanonical, normalizedAlias, string(entityType)).Scan(&id)
	})
	if err != nil {
		return AddAliasResult{}, err
	}
	return AddAliasResult{Inserted: true, ID: id}, nil
}

// AreNamesEquivalent performs the DB-backed half of names_match: the
// caller is expected to have already handled the identity check and its
// own verdict cache. It checks negative matches first (negative
// matches take precedence), then looks for an approved alias connecting
// the two normalized forms in either direction.
func (s *Store) AreNamesEquivalent(ctx context.Context, normA, normB string, entityType core.EntityType) (bool, error) {
	if normA == normB {
		return true, nil
	}
	negative, err := s.IsNegativeMatch(ctx, normA, normB, entityType)
	if err != nil {
		return false, err
	}
	if negative {
		return false, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_aliases
		WHERE entity_type = ? AND status = 'APPROVED'
		  AND ((normalized_canonical = ? AND normalized_alias = ?)
		    OR (normalized_canonical = ? AND normalized_alias = ?))`,
		string(entityType), normA, normB, normB, normA).Scan(&n)
	return n > 0, err
}

// AddNegativeMatch asserts that normA and normB (same type) are distinct
// entities. Re-asserting an existing pair increments its persistence
// counter. Adding one deletes any alias rows directly connecting the pair.
func (s *Store) AddNegativeMatch(ctx context.Context, normA, normB string, entityType core.EntityType) error {
	a, b := normA, normB
	if a > b {
		a, b = b, a
	}
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO negative_matches (normalized_a, normalized_b, entity_type, persistence, created_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(normalized_a, normalized_b, entity_type) DO UPDATE SET
				persistence = negative_matches.persistence + 1`,
			a, b, string(entityType), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM entity_aliases
			WHERE entity_type = ?
			  AND ((normalized_canonical = ? AND normalized_alias = ?)
			    OR (normalized_canonical = ? AND normalized_alias = ?))`,
			string(entityType), normA, normB, normB, normA)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// IsNegativeMatch reports whether normA and normB (same type) have been
// asserted distinct, irrespective of argument order.
func (s *Store) IsNegativeMatch(ctx context.Context, normA, normB string, entityType core.EntityType) (bool, error) {
	a, b := normA, normB
	if a > b {
		a, b = b, a
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM negative_matches WHERE normalized_a = ? AND normalized_b = ? AND entity_type = ?`,
		a, b, string(entityType)).Scan(&n)
	return n > 0, err
}
