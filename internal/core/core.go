// Package core defines the domain types shared across every Argus
// subsystem: articles, queue entries, entities, clusters, and devices.
// No package outside core defines a persisted domain type; store,
// vectorstore, and pipeline all operate on these structs.
package core

import "time"

// EntityType classifies a named entity extracted from an article.
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityLocation     EntityType = "LOCATION"
	EntityEvent        EntityType = "EVENT"
	EntityProduct      EntityType = "PRODUCT"
	EntityDate         EntityType = "DATE"
	EntityOther        EntityType = "OTHER"
)

// Importance tags an article-entity link.
type Importance string

const (
	ImportancePrimary   Importance = "PRIMARY"
	ImportanceSecondary Importance = "SECONDARY"
	ImportanceMentioned Importance = "MENTIONED"
)

// AliasStatus is the moderation state of a mined or admin-asserted alias.
type AliasStatus string

const (
	AliasPending  AliasStatus = "PENDING"
	AliasApproved AliasStatus = "APPROVED"
	AliasRejected AliasStatus = "REJECTED"
)

// ClusterStatus distinguishes live clusters from ones folded into another
// via a merge. Merged is terminal.
type ClusterStatus string

const (
	ClusterActive ClusterStatus = "active"
	ClusterMerged ClusterStatus = "merged"
)

// SubscriptionPriority governs push-notification priority for a topic.
type SubscriptionPriority string

const (
	PriorityHigh SubscriptionPriority = "high"
	PriorityLow  SubscriptionPriority = "low"
)

// DequeueOrder selects how the decision pool pulls from the ingest queue.
type DequeueOrder string

const (
	OrderNewest DequeueOrder = "newest"
	OrderOldest DequeueOrder = "oldest"
	OrderRandom DequeueOrder = "random"
)

// Article is the canonical analyzed unit. It is created either for a
// topic/threat match or for a final non-relevant verdict; articles are
// never deleted.
type Article struct {
	ID              int64
	URL             string
	Title           string
	NormalizedURL   string
	BodyHash        string // sha256 of extracted plain text
	TitleDomainHash string // sha256 of domain||title
	SeenAt          time.Time
	PubDate         *time.Time
	EventDate       *time.Time
	IsRelevant      bool
	Topic           string // optional
	Analysis        string // structured JSON report, empty if not relevant
	TinySummary     string
	R2URL           string // set once the report is uploaded
	Quality         int8   // signed, [-2, 4]
	ClusterID       *int64
}

// IngestQueueEntry is a URL awaiting a decision-pool verdict.
type IngestQueueEntry struct {
	URL     string
	Title   string
	PubDate *time.Time
}

// LifeSafetyQueueEntry carries a life-safety candidate through to analysis.
type LifeSafetyQueueEntry struct {
	Text            string
	HTML            string
	BodyHash        string
	TitleDomainHash string
	Regions         string // JSON blob of impacted (continent, country, region) triples
	URL             string
	Title           string
	PubDate         *time.Time
}

// MatchedTopicQueueEntry carries a topic-match candidate through to analysis.
type MatchedTopicQueueEntry struct {
	Text            string
	HTML            string
	BodyHash        string
	TitleDomainHash string
	Topic           string
	URL             string
	Title           string
	PubDate         *time.Time
}

// Entity is a named real-world referent with a canonical and normalized name.
type Entity struct {
	ID             int64
	Name           string
	NormalizedName string
	Type           EntityType
	ParentID       *int64
}

// ArticleEntity is the many-to-many link between an article and an entity.
type ArticleEntity struct {
	ArticleID  int64
	EntityID   int64
	Importance Importance
	Context    string
}

// EntityAlias is a directed assertion that AliasText refers to
// CanonicalName within EntityType.
type EntityAlias struct {
	ID                int64
	CanonicalName     string
	NormalizedCanon   string
	AliasText         string
	NormalizedAlias   string
	EntityType        EntityType
	Source            string // pattern id, or "ADMIN:<note>"
	Confidence        float64
	Status            AliasStatus
	CreatedAt         time.Time
	ReviewedAt        *time.Time
}

// NegativeMatch asserts that two normalized names of the same type are not
// the same entity. Each re-assertion increments Persistence.
type NegativeMatch struct {
	NormalizedA string
	NormalizedB string
	EntityType  EntityType
	Persistence int
	CreatedAt   time.Time
}

// Cluster groups articles sharing a primary entity set above threshold.
type Cluster struct {
	ID                 int64
	CreationDate       time.Time
	LastUpdated        time.Time
	PrimaryEntityIDs   []int64
	Summary            string
	SummaryVersion     int
	ArticleCount       int
	ImportanceScore    float64
	HasTimeline        bool
	NeedsSummaryUpdate bool
	Status             ClusterStatus
}

// ClusterArticleMapping is the many-to-many link between a cluster and an
// article, carrying the similarity score at assignment time.
type ClusterArticleMapping struct {
	ClusterID  int64
	ArticleID  int64
	Similarity float64
	AddedDate  time.Time
}

// ClusterMergeEvent is an append-only audit row for a cluster merge.
type ClusterMergeEvent struct {
	ID            int64
	SourceCluster int64
	DestCluster   int64
	MergedAt      time.Time
	Reason        string
}

// Device identifies a mobile client by an opaque push token.
type Device struct {
	ID    int64
	Token string
}

// DeviceSubscription is a (device, topic) subscription with a priority.
type DeviceSubscription struct {
	DeviceID int64
	Topic    string
	Priority SubscriptionPriority
}

// ClusterPreference records a device's relationship to a cluster, carried
// across a merge per spec.
type ClusterPreference struct {
	DeviceID        int64
	ClusterID       int64
	Silenced        bool
	Followed        bool
	LastInteraction time.Time
}

// ExtractedEntity is one entity surfaced by the entity-extraction prompt,
// before it has been persisted and assigned an ID.
type ExtractedEntity struct {
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Type           EntityType `json:"entity_type"`
	Importance     Importance `json:"importance"`
}

// ExtractionResult is the JSON-schema-constrained payload returned by the
// entity-extraction prompt.
type ExtractionResult struct {
	EventDate string            `json:"event_date,omitempty"`
	Entities  []ExtractedEntity `json:"entities"`
}

// AnalysisReport is the stable external JSON document a finished article
// produces: what gets uploaded to object storage, posted to Slack, and
// served back to mobile clients.
type AnalysisReport struct {
	ID                   int64            `json:"id"`
	Topic                string           `json:"topic"`
	Title                string           `json:"title"`
	URL                  string           `json:"url"`
	ArticleBody          string           `json:"article_body"`
	PubDate              string           `json:"pub_date,omitempty"`
	TinySummary          string           `json:"tiny_summary"`
	TinyTitle            string           `json:"tiny_title"`
	Summary              string           `json:"summary"`
	Affected             string           `json:"affected,omitempty"`
	CriticalAnalysis     string           `json:"critical_analysis"`
	LogicalFallacies     string           `json:"logical_fallacies"`
	RelationToTopic      string           `json:"relation_to_topic,omitempty"`
	SourceAnalysis       string           `json:"source_analysis"`
	AdditionalInsights   string           `json:"additional_insights"`
	ActionRecommendations string          `json:"action_recommendations"`
	TalkingPoints        string           `json:"talking_points"`
	ELI5                 string           `json:"eli5"`
	SourcesQuality       uint8            `json:"sources_quality"`
	ArgumentQuality      uint8            `json:"argument_quality"`
	Quality              int8             `json:"quality"`
	SourceType           string           `json:"source_type"`
	ElapsedTime          float64          `json:"elapsed_time"`
	Model                string           `json:"model"`
	Stats                map[string]any   `json:"stats,omitempty"`
	SimilarArticles      []SimilarArticle `json:"similar_articles"`
}

// SimilarArticle is one entry of an analysis report's similar_articles
// list: the blended vector+entity match plus every raw component that fed
// it, so a client can show its own "why" explanation.
type SimilarArticle struct {
	ID                  int64      `json:"id"`
	JSONURL             string     `json:"json_url"`
	Title               string     `json:"title"`
	TinySummary         string     `json:"tiny_summary"`
	Category            string     `json:"category"`
	PublishedDate       *time.Time `json:"published_date"`
	QualityScore        int8       `json:"quality_score"`
	SimilarityScore     float64    `json:"similarity_score"`
	VectorScore         float64    `json:"vector_score"`
	VectorActiveDims    int        `json:"vector_active_dimensions"`
	VectorMagnitude     float64    `json:"vector_magnitude"`
	EntityOverlapCount  int        `json:"entity_overlap_count"`
	PrimaryOverlapCount int        `json:"primary_overlap_count"`
	PersonOverlap       float64    `json:"person_overlap"`
	OrgOverlap          float64    `json:"org_overlap"`
	LocationOverlap     float64    `json:"location_overlap"`
	EventOverlap        float64    `json:"event_overlap"`
	TemporalProximity   float64    `json:"temporal_proximity"`
	SimilarityFormula   string     `json:"similarity_formula"`
}
