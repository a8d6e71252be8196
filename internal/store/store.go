// Package store is the embedded-database persistence layer: articles, the
// three work queues, entities, aliases, clusters, and devices all live in a
// single SQLite file behind a bounded connection pool.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"argus/internal/core"
)

// Sentinel error kinds a caller can match with errors.Is, mirroring the
// error-kind design (AlreadyPresent/NotFound are surfaced this way; a
// locked database is retried inside withRetry rather than surfaced as a
// kind; ModelRefusal and ParseError live in the packages that produce them).
var (
	ErrAlreadyPresent = errors.New("store: already present")
	ErrNotFound       = errors.New("store: not found")
)

// maxLockRetries and the backoff schedule implement the mandatory
// lock-aware retry: 100ms initial, doubled per attempt, five attempts, plus
// a final 0-200ms jitter.
const maxLockRetries = 5

// Store wraps the SQLite connection pool and funnels every write through
// withRetry so a "database is locked" condition is retried in place instead
// of surfacing to the caller.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite database at path, caps the
// connection pool at 5 per the single-writer-discipline requirement, and
// ensures the full schema exists.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(5)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		normalized_url TEXT NOT NULL UNIQUE,
		title TEXT,
		body_hash TEXT,
		title_domain_hash TEXT,
		seen_at TEXT NOT NULL,
		pub_date TEXT,
		event_date TEXT,
		is_relevant INTEGER NOT NULL,
		topic TEXT,
		analysis TEXT,
		tiny_summary TEXT,
		r2_url TEXT,
		quality INTEGER,
		cluster_id INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_body_hash ON articles (body_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_title_domain_hash ON articles (title_domain_hash)`,

	`CREATE TABLE IF NOT EXISTS ingest_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		pub_date TEXT,
		enqueued_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS life_safety_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT,
		html TEXT,
		body_hash TEXT,
		title_domain_hash TEXT,
		regions TEXT,
		url TEXT,
		title TEXT,
		pub_date TEXT,
		enqueued_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS matched_topic_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT,
		html TEXT,
		body_hash TEXT,
		title_domain_hash TEXT,
		topic TEXT,
		url TEXT,
		title TEXT,
		pub_date TEXT,
		enqueued_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		type TEXT NOT NULL,
		parent_id INTEGER,
		UNIQUE (normalized_name, type)
	)`,

	`CREATE TABLE IF NOT EXISTS article_entities (
		article_id INTEGER NOT NULL,
		entity_id INTEGER NOT NULL,
		importance TEXT NOT NULL,
		context TEXT,
		UNIQUE (article_id, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_article_entities_article ON article_entities (article_id)`,
	`CREATE INDEX IF NOT EXISTS idx_article_entities_entity ON article_entities (entity_id)`,

	`CREATE TABLE IF NOT EXISTS entity_aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id INTEGER,
		canonical_name TEXT NOT NULL,
		normalized_canonical TEXT NOT NULL,
		alias_text TEXT NOT NULL,
		normalized_alias TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		reviewed_at TEXT,
		UNIQUE (normalized_canonical, normalized_alias, entity_type)
	)`,

	`CREATE TABLE IF NOT EXISTS negative_matches (
		normalized_a TEXT NOT NULL,
		normalized_b TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		persistence INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		UNIQUE (normalized_a, normalized_b, entity_type)
	)`,

	`CREATE TABLE IF NOT EXISTS article_clusters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		creation_date TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		primary_entity_ids TEXT NOT NULL,
		summary TEXT,
		summary_version INTEGER NOT NULL DEFAULT 0,
		article_count INTEGER NOT NULL DEFAULT 0,
		importance_score REAL NOT NULL DEFAULT 0,
		has_timeline INTEGER NOT NULL DEFAULT 0,
		needs_summary_update INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'active'
	)`,

	`CREATE TABLE IF NOT EXISTS article_cluster_mappings (
		cluster_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		similarity REAL NOT NULL,
		added_date TEXT NOT NULL,
		UNIQUE (cluster_id, article_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_mappings_cluster ON article_cluster_mappings (cluster_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_mappings_article ON article_cluster_mappings (article_id)`,

	`CREATE TABLE IF NOT EXISTS cluster_merge_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_cluster INTEGER NOT NULL,
		dest_cluster INTEGER NOT NULL,
		merged_at TEXT NOT NULL,
		reason TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS device_subscriptions (
		device_id INTEGER NOT NULL,
		topic TEXT NOT NULL,
		priority TEXT NOT NULL,
		UNIQUE (device_id, topic)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_subscriptions ON device_subscriptions (device_id, topic)`,

	`CREATE TABLE IF NOT EXISTS cluster_preferences (
		device_id INTEGER NOT NULL,
		cluster_id INTEGER NOT NULL,
		silenced INTEGER NOT NULL DEFAULT 0,
		followed INTEGER NOT NULL DEFAULT 0,
		last_interaction TEXT NOT NULL,
		UNIQUE (device_id, cluster_id)
	)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}

// isLocked reports whether err is SQLite's structural "database is locked"
// condition, detected by error code rather than by matching the message
// text (an open question the spec leaves to the implementation).
func isLocked(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs fn up to maxLockRetries times, waiting a doubling 100ms
// backoff after each failure on a locked database, plus a final 0-200ms
// jitter on the wait before the last attempt. Non-lock errors propagate
// immediately.
func withRetry(ctx context.Context, fn func() error) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxLockRetries; attempt++ {
		err = fn()
		if err == nil || !isLocked(err) {
			return err
		}
		if attempt == maxLockRetries-1 {
			break
		}
		wait := backoff
		if attempt == maxLockRetries-2 {
			wait += time.Duration(rand.Intn(200)) * time.Millisecond
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// normalizeURL lowercases the host, drops a trailing slash and any
// fragment, so feed reruns that vary only in fragment or casing dedup
// correctly against normalized_url.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// --- Ingest queue -----------------------------------------------------

// EnqueueIngest adds url to the ingest queue. It returns false, not an
// error, when the URL is already queued or already has a final article
// row - enqueue is idempotent by design.
func (s *Store) EnqueueIngest(ctx context.Context, u, title string, pubDate *time.Time) (bool, error) {
	norm := normalizeURL(u)
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE normalized_url = ?`, norm).Scan(&exists); err == nil {
		return false, nil
	} else if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking existing article: %w", err)
	}

	var ok bool
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO ingest_queue (url, title, pub_date, enqueued_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(url) DO NOTHING`,
			u, nullString(title), nullTime(pubDate), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n > 0
		return nil
	})
	return ok, err
}

// DequeueIngest atomically pops one entry per the requested ordering.
func (s *Store) DequeueIngest(ctx context.Context, order core.DequeueOrder) (*core.IngestQueueEntry, error) {
	orderClause := "ORDER BY RANDOM() LIMIT 1"
	switch order {
	case core.OrderNewest:
		orderClause = "ORDER BY (pub_date IS NULL), pub_date DESC LIMIT 1"
	case core.OrderOldest:
		orderClause = "ORDER BY (pub_date IS NULL), pub_date ASC LIMIT 1"
	}

	var entry *core.IngestQueueEntry
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT id, url, title, pub_date FROM ingest_queue `+orderClause)
		var id int64
		var u string
		var title sql.NullString
		var pubDate sql.NullString
		if err := row.Scan(&id, &u, &title, &pubDate); err != nil {
			if err == sql.ErrNoRows {
				entry = nil
				return nil
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_queue WHERE id = ?`, id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		entry = &core.IngestQueueEntry{URL: u}
		if title.Valid {
			entry.Title = title.String
		}
		entry.PubDate = parseTime(pubDate)
		return nil
	})
	return entry, err
}

// CountIngest returns the current ingest queue depth.
func (s *Store) CountIngest(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_queue`).Scan(&n)
	return n, err
}

// CleanIngest removes queue entries whose URL already resolved to a final
// article row, or which have sat unconsumed past retention.
func (s *Store) CleanIngest(ctx context.Context, retention time.Duration) (int64, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM ingest_queue
			WHERE url IN (SELECT url FROM articles)
			   OR enqueued_at < ?`,
			time.Now().UTC().Add(-retention).Format(time.RFC3339))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// --- Life-safety and matched-topic queues -----------------------------

// EnqueueLifeSafety adds a validated threat candidate.
func (s *Store) EnqueueLifeSafety(ctx context.Context, e core.LifeSafetyQueueEntry) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO life_safety_queue (text, html, body_hash, title_domain_hash, regions, url, title, pub_date, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Text, e.HTML, e.BodyHash, e.TitleDomainHash, e.Regions, e.URL, e.Title, nullTime(e.PubDate),
			time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// FetchAndDeleteLifeSafety atomically pops the oldest life-safety candidate.
func (s *Store) FetchAndDeleteLifeSafety(ctx context.Context) (*core.LifeSafetyQueueEntry, error) {
	var entry *core.LifeSafetyQueueEntry
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id, text, html, body_hash, title_domain_hash, regions, url, title, pub_date
			FROM life_safety_queue ORDER BY id ASC LIMIT 1`)
		var id int64
		var e core.LifeSafetyQueueEntry
		var pubDate sql.NullString
		if err := row.Scan(&id, &e.Text, &e.HTML, &e.BodyHash, &e.TitleDomainHash, &e.Regions, &e.URL, &e.Title, &pubDate); err != nil {
			if err == sql.ErrNoRows {
				entry = nil
				return nil
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM life_safety_queue WHERE id = ?`, id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		e.PubDate = parseTime(pubDate)
		entry = &e
		return nil
	})
	return entry, err
}

// EnqueueMatchedTopic adds a topic-matched candidate.
func (s *Store) EnqueueMatchedTopic(ctx context.Context, e core.MatchedTopicQueueEntry) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO matched_topic_queue (text, html, body_hash, title_domain_hash, topic, url, title, pub_date, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Text, e.HTML, e.BodyHash, e.TitleDomainHash, e.Topic, e.URL, e.Title, nullTime(e.PubDate),
			time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// FetchAndDeleteMatchedTopic atomically pops the oldest topic-matched candidate.
func (s *Store) FetchAndDeleteMatchedTopic(ctx context.Context) (*core.MatchedTopicQueueEntry, error) {
	var entry *core.MatchedTopicQueueEntry
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id, text, html, body_hash, title_domain_hash, topic, url, title, pub_date
			FROM matched_topic_queue ORDER BY id ASC LIMIT 1`)
		var id int64
		var e core.MatchedTopicQueueEntry
		var pubDate sql.NullString
		if err := row.Scan(&id, &e.Text, &e.HTML, &e.BodyHash, &e.TitleDomainHash, &e.Topic, &e.URL, &e.Title, &pubDate); err != nil {
			if err == sql.ErrNoRows {
				entry = nil
				return nil
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM matched_topic_queue WHERE id = ?`, id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		e.PubDate = parseTime(pubDate)
		entry = &e
		return nil
	})
	return entry, err
}

// --- Articles -----------------------------------------------------------

// UpsertArticleParams bundles upsert_article's many optional fields.
type UpsertArticleParams struct {
	URL             string
	Title           string
	IsRelevant      bool
	Topic           string
	Analysis        string
	TinySummary     string
	BodyHash        string
	TitleDomainHash string
	R2URL           string
	Quality         int8
	PubDate         *time.Time
	EventDate       *time.Time
}

// UpsertArticle inserts or updates an article keyed on normalized_url,
// returning its id either way.
func (s *Store) UpsertArticle(ctx context.Context, p UpsertArticleParams) (int64, error) {
	norm := normalizeURL(p.URL)
	var id int64
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO articles (url, normalized_url, title, body_hash, title_domain_hash, seen_at, pub_date, event_date, is_relevant, topic, analysis, tiny_summary, r2_url, quality)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(normalized_url) DO UPDATE SET
				title = excluded.title,
				body_hash = excluded.body_hash,
				title_domain_hash = excluded.title_domain_hash,
				pub_date = excluded.pub_date,
				event_date = excluded.event_date,
				is_relevant = excluded.is_relevant,
				topic = excluded.topic,
				analysis = excluded.analysis,
				tiny_summary = excluded.tiny_summary,
				r2_url = excluded.r2_url,
				quality = excluded.quality`,
			p.URL, norm, nullString(p.Title), nullString(p.BodyHash), nullString(p.TitleDomainHash),
			time.Now().UTC().Format(time.RFC3339), nullTime(p.PubDate), nullTime(p.EventDate),
			p.IsRelevant, nullString(p.Topic), nullString(p.Analysis), nullString(p.TinySummary),
			nullString(p.R2URL), p.Quality)
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT id FROM articles WHERE normalized_url = ?`, norm).Scan(&id)
	})
	return id, err
}

// SetArticleR2URL records the hosted-report URL once the upload completes.
func (s *Store) SetArticleR2URL(ctx context.Context, articleID int64, r2URL string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE articles SET r2_url = ? WHERE id = ?`, r2URL, articleID)
		return err
	})
}

// SetArticleCluster records the cluster an article was assigned to.
func (s *Store) SetArticleCluster(ctx context.Context, articleID, clusterID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE articles SET cluster_id = ? WHERE id = ?`, clusterID, articleID)
		return err
	})
}

// HasBodyHash reports whether an article with this body hash already exists.
func (s *Store) HasBodyHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM articles WHERE body_hash = ?`, hash)
}

// HasTitleDomainHash reports whether an article with this title/domain
// hash already exists.
func (s *Store) HasTitleDomainHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM articles WHERE title_domain_hash = ?`, hash)
}

func (s *Store) exists(ctx context.Context, query string, arg string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, errOrNil(err)
}

func errOrNil(err error) error {
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

// ArticleDetails is the slim projection get_article_details_by_id returns.
type ArticleDetails struct {
	Title       string
	R2URL       string
	TinyTitle   string
	TinySummary string
	Quality     int8
}

// GetArticleDetailsByID fetches the hosted-report URL, title, and summary
// fields the similarity engine surfaces on a SimilarArticle.
func (s *Store) GetArticleDetailsByID(ctx context.Context, id int64) (*ArticleDetails, error) {
	var d ArticleDetails
	var title, r2, summary sql.NullString
	var quality sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT title, r2_url, tiny_summary, quality FROM articles WHERE id = ?`, id).Scan(&title, &r2, &summary, &quality)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Title = title.String
	d.R2URL = r2.String
	d.TinySummary = summary.String
	d.Quality = int8(quality.Int64)
	return &d, nil
}

// GetArticleDates returns an article's publication and event dates.
func (s *Store) GetArticleDates(ctx context.Context, id int64) (pubDate, eventDate *time.Time, err error) {
	var pd, ed sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT pub_date, event_date FROM articles WHERE id = ?`, id).Scan(&pd, &ed)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return parseTime(pd), parseTime(ed), nil
}

// --- small helpers shared across the package ----------------------------

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
