package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/internal/core"
)

// CreateCluster starts a new active cluster around primaryEntityIDs.
func (s *Store) CreateCluster(ctx context.Context, primaryEntityIDs []int64) (*core.Cluster, error) {
	raw, err := json.Marshal(primaryEntityIDs)
	if err != nil {
		return nil, fmt.Errorf("marshaling primary entity ids: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var id int64
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO article_clusters (creation_date, last_updated, primary_entity_ids, article_count, needs_summary_update, status)
			VALUES (?, ?, ?, 0, 1, 'active')`, now, now, string(raw))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetCluster(ctx, id)
}

// GetCluster loads a cluster by id.
func (s *Store) GetCluster(ctx context.Context, id int64) (*core.Cluster, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, creation_date, last_updated, primary_entity_ids, summary, summary_version,
		       article_count, importance_score, has_timeline, needs_summary_update, status
		FROM article_clusters WHERE id = ?`, id)
	return scanCluster(row)
}

func scanCluster(row *sql.Row) (*core.Cluster, error) {
	var c core.Cluster
	var created, updated string
	var primaryRaw string
	var summary sql.NullString
	var status string
	err := row.Scan(&c.ID, &created, &updated, &primaryRaw, &summary, &c.SummaryVersion,
		&c.ArticleCount, &c.ImportanceScore, &c.HasTimeline, &c.NeedsSummaryUpdate, &status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreationDate, _ = time.Parse(time.RFC3339, created)
	c.LastUpdated, _ = time.Parse(time.RFC3339, updated)
	c.Summary = summary.String
	c.Status = core.ClusterStatus(status)
	if err := json.Unmarshal([]byte(primaryRaw), &c.PrimaryEntityIDs); err != nil {
		return nil, fmt.Errorf("decoding primary_entity_ids: %w", err)
	}
	return &c, nil
}

// GetActiveClusters lists every cluster whose status is active. Merged
// clusters are terminal and never appear here.
func (s *Store) GetActiveClusters(ctx context.Context) ([]core.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creation_date, last_updated, primary_entity_ids, summary, summary_version,
		       article_count, importance_score, has_timeline, needs_summary_update, status
		FROM article_clusters WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Cluster
	for rows.Next() {
		var c core.Cluster
		var created, updated string
		var primaryRaw string
		var summary sql.NullString
		var status string
		if err := rows.Scan(&c.ID, &created, &updated, &primaryRaw, &summary, &c.SummaryVersion,
			&c.ArticleCount, &c.ImportanceScore, &c.HasTimeline, &c.NeedsSummaryUpdate, &status); err != nil {
			return nil, err
		}
		c.CreationDate, _ = time.Parse(time.RFC3339, created)
		c.LastUpdated, _ = time.Parse(time.RFC3339, updated)
		c.Summary = summary.String
		c.Status = core.ClusterStatus(status)
		if err := json.Unmarshal([]byte(primaryRaw), &c.PrimaryEntityIDs); err != nil {
			return nil, fmt.Errorf("decoding primary_entity_ids for cluster %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AssignArticleToCluster inserts the mapping, bumps article_count, touches
// last_updated, and flags needs_summary_update.
func (s *Store) AssignArticleToCluster(ctx context.Context, clusterID, articleID int64, similarity float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO article_cluster_mappings (cluster_id, article_id, similarity, added_date)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(cluster_id, article_id) DO UPDATE SET similarity = excluded.similarity`,
			clusterID, articleID, similarity, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE article_clusters
			SET article_count = (SELECT COUNT(*) FROM article_cluster_mappings WHERE cluster_id = ?),
			    last_updated = ?,
			    needs_summary_update = 1
			WHERE id = ?`, clusterID, now, clusterID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	return s.SetArticleCluster(ctx, articleID, clusterID)
}

// ClusterArticle is one article row pulled for summary generation, ordered
// by recency and assignment similarity.
type ClusterArticle struct {
	ArticleID   int64
	TinySummary string
	PubDate     *time.Time
	Similarity  float64
}

// GetClusterArticlesForSummary returns up to limit articles in the
// cluster, most-recent-plus-highest-similarity first.
func (s *Store) GetClusterArticlesForSummary(ctx context.Context, clusterID int64, limit int) ([]ClusterArticle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.tiny_summary, a.pub_date, m.similarity
		FROM article_cluster_mappings m
		JOIN articles a ON a.id = m.article_id
		WHERE m.cluster_id = ?
		ORDER BY m.similarity DESC, a.pub_date DESC
		LIMIT ?`, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClusterArticle
	for rows.Next() {
		var ca ClusterArticle
		var summary sql.NullString
		var pd sql.NullString
		if err := rows.Scan(&ca.ArticleID, &summary, &pd, &ca.Similarity); err != nil {
			return nil, err
		}
		ca.TinySummary = summary.String
		ca.PubDate = parseTime(pd)
		out = append(out, ca)
	}
	return out, rows.Err()
}

// SetClusterSummary persists a regenerated summary, bumps summary_version,
// and clears needs_summary_update.
func (s *Store) SetClusterSummary(ctx context.Context, clusterID int64, summary string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE article_clusters
			SET summary = ?, summary_version = summary_version + 1, needs_summary_update = 0
			WHERE id = ?`, summary, clusterID)
		return err
	})
}

// SetClusterImportance persists a recomputed significance score.
func (s *Store) SetClusterImportance(ctx context.Context, clusterID int64, score float64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE article_clusters SET importance_score = ? WHERE id = ?`, score, clusterID)
		return err
	})
}

// MergeClusters creates a new cluster with the union of both sources'
// primary entities, moves every mapping from both sources onto it, marks
// the sources merged, and appends a merge-history row. It also transfers
// user cluster preferences from the sources onto the destination: any
// silenced flag clears, followed becomes true, and last_interaction is
// bumped to now.
func (s *Store) MergeClusters(ctx context.Context, sourceA, sourceB int64, unionEntityIDs []int64, reason string) (int64, error) {
	raw, err := json.Marshal(unionEntityIDs)
	if err != nil {
		return 0, fmt.Errorf("marshaling union entity ids: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var destID int64
	err = withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO article_clusters (creation_date, last_updated, primary_entity_ids, article_count, needs_summary_update, status)
			VALUES (?, ?, ?, 0, 1, 'active')`, now, now, string(raw))
		if err != nil {
			return err
		}
		destID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, src := range []int64{sourceA, sourceB} {
			if _, err := tx.ExecContext(ctx, `
				UPDATE OR IGNORE article_cluster_mappings SET cluster_id = ? WHERE cluster_id = ?`, destID, src); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM article_cluster_mappings WHERE cluster_id = ?`, src); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE article_clusters SET status = 'merged' WHERE id = ?`, src); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cluster_merge_history (source_cluster, dest_cluster, merged_at, reason)
				VALUES (?, ?, ?, ?)`, src, destID, now, reason); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cluster_preferences (device_id, cluster_id, silenced, followed, last_interaction)
				SELECT device_id, ?, 0, 1, ? FROM cluster_preferences WHERE cluster_id = ?
				ON CONFLICT(device_id, cluster_id) DO UPDATE SET silenced = 0, followed = 1, last_interaction = excluded.last_interaction`,
				destID, now, src); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE article_clusters SET article_count = (SELECT COUNT(*) FROM article_cluster_mappings WHERE cluster_id = ?)
			WHERE id = ?`, destID, destID); err != nil {
			return err
		}

		return tx.Commit()
	})
	return destID, err
}
