// Package analysis implements the analysis worker pool (C5): it pulls
// life-safety and matched-topic items off their queues, runs the
// multi-stage analysis battery, extracts entities and embeddings, assigns
// clusters, and dispatches notifications. Each worker alternates into a
// decision-style fallback mode when its primary model has been idle.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"argus/internal/core"
	"argus/internal/entity"
	"argus/internal/llm"
	"argus/internal/logger"
	"argus/internal/messaging"
	"argus/internal/store"
	"argus/internal/vectorstore"
)

// Generator is the subset of *llm.Client the analysis battery, entity
// extraction, and embedding steps call.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, schema json.RawMessage, opts llm.Options, target interface{}) error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Prober is a short readiness check, used around mode switches.
type Prober interface {
	Probe(ctx context.Context) error
}

// Store is the subset of *store.Store an analysis worker needs.
type Store interface {
	FetchAndDeleteLifeSafety(ctx context.Context) (*core.LifeSafetyQueueEntry, error)
	FetchAndDeleteMatchedTopic(ctx context.Context) (*core.MatchedTopicQueueEntry, error)
	UpsertArticle(ctx context.Context, p store.UpsertArticleParams) (int64, error)
	SetArticleR2URL(ctx context.Context, articleID int64, r2URL string) error
	SetArticleCluster(ctx context.Context, articleID, clusterID int64) error
	ProcessExtraction(ctx context.Context, articleID int64, result core.ExtractionResult) ([]int64, error)
	AddAlias(ctx context.Context, entityID *int64, canonicalName, normalizedCanonical, aliasText, normalizedAlias string, entityType core.EntityType, source string, confidence float64, status core.AliasStatus) (store.AddAliasResult, error)
	FetchDevicesForTopic(ctx context.Context, topic string) ([]store.DeviceSubscriber, error)
}

// SimilarityFinder enriches a freshly embedded article with ranked related
// coverage (C7).
type SimilarityFinder interface {
	Find(ctx context.Context, articleID int64, embedding []float32, entityIDs []int64, eventDate *time.Time, limit int) ([]core.SimilarArticle, []string, error)
}

// Clusterer assigns an article to a cluster and keeps that cluster's
// summary, significance, and merge state current (C8).
type Clusterer interface {
	Assign(ctx context.Context, articleID int64, primaryEntityIDs []int64) (*core.Cluster, error)
	RefreshSummary(ctx context.Context, clusterID int64) error
	RefreshSignificance(ctx context.Context, clusterID int64) error
	CheckMerge(ctx context.Context, clusterID int64) (int64, error)
}

// ReportUploader hosts the finished report JSON and returns its public URL.
type ReportUploader interface {
	UploadReport(ctx context.Context, articleID int64, reportJSON []byte) (string, error)
}

// SlackPoster posts a finished report to Slack. It never returns an error:
// a dropped Slack post must never fail the pipeline that produced it.
type SlackPoster interface {
	Post(ctx context.Context, r messaging.Report)
}

// FallbackProcessor runs one decision-style cascade iteration. Satisfied
// by *decision.Worker.
type FallbackProcessor interface {
	ProcessOnce(ctx context.Context) bool
}

const (
	similarArticleLimit = 10

	idleFallbackThreshold = 10 * time.Minute
	fallbackEarlySwitch   = 5 * time.Minute
	fallbackHardSwitch    = 15 * time.Minute
	probeRetryDelay       = 5 * time.Second
	probeMaxAttempts      = 60

	emptyQueueSleep = 10 * time.Second
	tightLoopSleep  = 2 * time.Second
)

// mode is the analysis worker's current operating mode.
type mode int

const (
	modeAnalysis mode = iota
	modeFallbackDecision
)

// Worker is one analysis-pool worker, bound to a primary model and an
// optional fallback decision-mode configuration.
type Worker struct {
	id          int
	modelName   string
	temperature float32

	store       Store
	gen         Generator
	prober      Prober
	similarity  SimilarityFinder
	clusters    Clusterer
	vectors     vectorstore.Store
	objects     ReportUploader
	slack       SlackPoster
	push        messaging.Notifier
	places      PlacesDetailed

	fallback       FallbackProcessor
	fallbackProber Prober

	matcher *entity.Matcher

	log zerolog.Logger
}

// Config bundles the collaborators a Worker needs; passed as a struct
// since the list is long and every field is a distinct external
// dependency rather than worker-local state.
type Config struct {
	ID          int
	ModelName   string
	Temperature float32

	Store      Store
	Generator  Generator
	Prober     Prober
	Similarity SimilarityFinder
	Clusters   Clusterer
	Vectors    vectorstore.Store
	Objects    ReportUploader
	Slack      SlackPoster
	Push       messaging.Notifier
	Places     PlacesDetailed

	Fallback       FallbackProcessor
	FallbackProber Prober

	Equivalence entity.EquivalenceChecker
}

// New builds an analysis worker.
func New(cfg Config) *Worker {
	return &Worker{
		id:             cfg.ID,
		modelName:      cfg.ModelName,
		temperature:    cfg.Temperature,
		store:          cfg.Store,
		gen:            cfg.Generator,
		prober:         cfg.Prober,
		similarity:     cfg.Similarity,
		clusters:       cfg.Clusters,
		vectors:        cfg.Vectors,
		objects:        cfg.Objects,
		slack:          cfg.Slack,
		push:           cfg.Push,
		places:         cfg.Places,
		fallback:       cfg.Fallback,
		fallbackProber: cfg.FallbackProber,
		matcher:        entity.NewMatcher(cfg.Equivalence),
		log:            logger.Worker("analysis worker", cfg.ID, cfg.ModelName),
	}
}

// Run alternates the worker between ANALYSIS and FALLBACK_DECISION mode
// until ctx is cancelled, mirroring the original state machine: an idle
// analysis worker tries to switch to fallback after 10 minutes (gated on a
// readiness probe of the fallback model, reverting immediately on
// failure), and a worker in fallback mode switches back after 5-15
// minutes (again gated on a readiness probe, this time of the primary).
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("starting analysis worker")

	current := modeAnalysis
	lastActivity := time.Now()
	var fallbackStart time.Time

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch current {
		case modeAnalysis:
			if w.fallback != nil && time.Since(lastActivity) > idleFallbackThreshold {
				if w.waitForReady(ctx, w.fallbackProber) {
					current = modeFallbackDecision
					fallbackStart = time.Now()
					w.log.Info().Msg("switching to fallback decision mode after idle timeout")
					break
				}
				w.log.Warn().Msg("fallback model not ready, staying in analysis mode")
				if !w.waitForReady(ctx, w.prober) {
					w.log.Error().Msg("primary model also failed readiness probe")
				}
				lastActivity = time.Now()
				break
			}

			processed := w.processOne(ctx)
			if processed {
				lastActivity = time.Now()
			}

		case modeFallbackDecision:
			if time.Since(fallbackStart) > fallbackEarlySwitch {
				if w.waitForReady(ctx, w.prober) {
					current = modeAnalysis
					lastActivity = time.Now()
					w.log.Info().Msg("switching back to analysis mode early")
					break
				}
			}

			if w.fallback.ProcessOnce(ctx) {
				lastActivity = time.Now()
			}

			if current == modeFallbackDecision && time.Since(fallbackStart) > fallbackHardSwitch {
				if w.waitForReady(ctx, w.prober) {
					current = modeAnalysis
					lastActivity = time.Now()
					w.log.Info().Msg("switching back to analysis mode after hard timeout")
				}
			}
		}

		if !sleepOrDone(ctx, tightLoopSleep) {
			return ctx.Err()
		}
	}
}

// waitForReady probes p every 5s for up to 60 attempts, returning false if
// none succeed or ctx is cancelled first.
func (w *Worker) waitForReady(ctx context.Context, p Prober) bool {
	if p == nil {
		return false
	}
	for attempt := 0; attempt < probeMaxAttempts; attempt++ {
		if err := p.Probe(ctx); err == nil {
			return true
		}
		if !sleepOrDone(ctx, probeRetryDelay) {
			return false
		}
	}
	return false
}

// processOne tries the life-safety queue, then the matched-topic queue;
// if both are empty it sleeps and reports no work done.
func (w *Worker) processOne(ctx context.Context) bool {
	entry, err := w.store.FetchAndDeleteLifeSafety(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("error fetching life-safety queue")
	} else if entry != nil {
		w.processLifeSafety(ctx, *entry)
		return true
	}

	topicEntry, err := w.store.FetchAndDeleteMatchedTopic(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("error fetching matched-topic queue")
	} else if topicEntry != nil {
		w.processMatchedTopic(ctx, *topicEntry)
		return true
	}

	sleepOrDone(ctx, emptyQueueSleep)
	return false
}

// battery is the full set of fields the analysis prompt cascade produces.
type battery struct {
	summary              string
	tinySummary          string
	tinyTitle            string
	criticalAnalysis     string
	logicalFallacies     string
	sourceAnalysis       string
	sourcesQuality       uint8
	argumentQuality      uint8
	sourceType           string
	relationToTopic      string
	additionalInsights   string
	actionRecommendations string
	talkingPoints        string
	eli5                 string
}

// runBattery runs the gated analysis prompt cascade. Every step beyond the
// empty-text/empty-summary short circuit runs unconditionally; it is only
// the handful of steps spelled out below that gate on a specific prior
// result, exactly as spec.md §4.5 describes.
func (w *Worker) runBattery(ctx context.Context, articleText, html, articleURL string, topic *string) battery {
	var b battery
	if strings.TrimSpace(articleText) == "" {
		b.sourcesQuality, b.argumentQuality, b.sourceType = 2, 2, "none"
		return b
	}

	b.summary = w.generate(ctx, fmt.Sprintf(llm.PromptSummary, articleText))
	if b.summary == "" {
		b.sourcesQuality, b.argumentQuality, b.sourceType = 2, 2, "none"
		return b
	}

	b.tinySummary = w.generate(ctx, fmt.Sprintf(llm.PromptTinySummary, b.summary))
	b.tinyTitle = w.generate(ctx, fmt.Sprintf(llm.PromptTinyTitle, b.summary))
	b.criticalAnalysis = w.generate(ctx, fmt.Sprintf(llm.PromptCriticalAnalysis, articleText))
	b.logicalFallacies = w.generate(ctx, fmt.Sprintf(llm.PromptLogicalFallacies, articleText))
	b.sourceAnalysis = w.generate(ctx, fmt.Sprintf(llm.PromptSourceAnalysis, articleURL, html))

	if b.criticalAnalysis != "" {
		b.sourcesQuality = parseQualityRating(w.generate(ctx, fmt.Sprintf(llm.PromptSourcesQuality, articleText)))
	} else {
		b.sourcesQuality = 2
	}
	if b.logicalFallacies != "" {
		b.argumentQuality = parseQualityRating(w.generate(ctx, fmt.Sprintf(llm.PromptArgumentQuality, articleText)))
	} else {
		b.argumentQuality = 2
	}
	if b.sourceAnalysis != "" {
		b.sourceType = strings.TrimSpace(w.generate(ctx, fmt.Sprintf(llm.PromptSourceType, articleText)))
	} else {
		b.sourceType = "none"
	}

	if topic != nil {
		b.relationToTopic = w.generate(ctx, fmt.Sprintf(llm.PromptRelationToTopic, *topic, articleText))
	}
	if b.summary != "" && b.criticalAnalysis != "" {
		b.additionalInsights = w.generate(ctx, fmt.Sprintf(llm.PromptAdditionalInsights, articleText))
	}
	if b.summary != "" {
		b.actionRecommendations = w.generate(ctx, fmt.Sprintf(llm.PromptActionRecommendations, articleText))
		b.talkingPoints = w.generate(ctx, fmt.Sprintf(llm.PromptTalkingPoints, articleText))
		b.eli5 = w.generate(ctx, fmt.Sprintf(llm.PromptELI5, articleText))
	}
	return b
}

// passesGate is the strict non-empty gate spec.md §4.5 names: an article
// is only ever persisted when its summary, tiny_summary, critical_analysis,
// and logical_fallacies all came back non-empty.
func (b battery) passesGate() bool {
	return b.summary != "" && b.tinySummary != "" && b.criticalAnalysis != "" && b.logicalFallacies != ""
}

func (w *Worker) generate(ctx context.Context, prompt string) string {
	out, err := w.gen.Generate(ctx, prompt, llm.Options{Temperature: w.temperature})
	if err != nil {
		w.log.Debug().Err(err).Msg("analysis prompt call failed")
		return ""
	}
	return out
}

func parseQualityRating(resp string) uint8 {
	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil || n < 1 || n > 3 {
		return 2
	}
	return uint8(n)
}

// calculateQualityScore combines sourcesQuality and argumentQuality via
// the {1->-1, 2->1, 3->2} table, yielding a signed quality in [-2, 4].
func calculateQualityScore(sourcesQuality, argumentQuality uint8) int8 {
	table := map[uint8]int8{1: -1, 2: 1, 3: 2}
	return table[sourcesQuality] + table[argumentQuality]
}

// processMatchedTopic runs the battery keyed on entry.Topic and finishes
// the pipeline if the result clears the non-empty gate.
func (w *Worker) processMatchedTopic(ctx context.Context, entry core.MatchedTopicQueueEntry) {
	start := time.Now()
	topic := entry.Topic
	b := w.runBattery(ctx, entry.Text, entry.HTML, entry.URL, &topic)
	if !b.passesGate() {
		w.log.Warn().Str("url", entry.URL).Msg("matched-topic analysis failed the non-empty gate, dropping")
		return
	}

	report := w.buildReport(entry.Topic, entry.Title, entry.URL, entry.Text, entry.PubDate, b, "", time.Since(start))
	w.finish(ctx, report, entry.Text, entry.HTML, entry.BodyHash, entry.TitleDomainHash, entry.PubDate)
}

// processLifeSafety runs the place-confirmation sub-flow, then the battery
// with the derived relation-to-topic, then finishes the pipeline if the
// result clears the non-empty gate.
func (w *Worker) processLifeSafety(ctx context.Context, entry core.LifeSafetyQueueEntry) {
	start := time.Now()

	directly := map[string]map[string]bool{}
	indirectly := map[string]map[string]bool{}

	var regions struct {
		ImpactedRegions []struct {
			Continent string `json:"continent"`
			Country   string `json:"country"`
			Region    string `json:"region"`
		} `json:"regions"`
	}
	_ = json.Unmarshal([]byte(entry.Regions), &regions)

	for _, r := range regions.ImpactedRegions {
		cities := w.places.Cities(r.Continent, r.Country, r.Region)
		if cities == nil {
			continue
		}
		regionYes := llm.IsAffirmative(w.generate(ctx, fmt.Sprintf(llm.PromptRegionThreat, r.Continent, r.Country, r.Region, entry.Text)))
		if !regionYes {
			continue
		}
		for city, people := range cities {
			cityYes := strings.Contains(strings.ToLower(w.generate(ctx, fmt.Sprintf(llm.PromptCityThreat, city, r.Continent, r.Country, r.Region, entry.Text))), "yes")
			bucket := indirectly
			if cityYes {
				bucket = directly
			}
			if bucket[city] == nil {
				bucket[city] = map[string]bool{}
			}
			for _, person := range people {
				name, _ := SplitPerson(person)
				bucket[city][name] = true
			}
		}
	}

	affectedSummary := buildAffectedSummary(directly)
	nonAffectedSummary := buildAffectedSummary(indirectly)
	if affectedSummary == "" && nonAffectedSummary == "" {
		w.log.Debug().Str("url", entry.URL).Msg("life-safety item confirmed no affected people, dropping")
		return
	}

	var howAffects, whyNot string
	if affectedSummary != "" {
		howAffects = w.generate(ctx, fmt.Sprintf(llm.PromptHowDoesItAffect, affectedSummary, entry.Text))
	}
	if nonAffectedSummary != "" {
		whyNot = w.generate(ctx, fmt.Sprintf(llm.PromptWhyNotAffect, nonAffectedSummary, entry.Text))
	}

	topic := "Alert: Near"
	if affectedSummary != "" {
		topic = "Alert: Direct"
	}

	var relationToTopic string
	switch {
	case affectedSummary != "" && nonAffectedSummary != "":
		relationToTopic = fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s", affectedSummary, howAffects, nonAffectedSummary, whyNot)
	case affectedSummary != "":
		relationToTopic = fmt.Sprintf("%s\n\n%s", affectedSummary, howAffects)
	case nonAffectedSummary != "":
		relationToTopic = fmt.Sprintf("%s\n\n%s", nonAffectedSummary, whyNot)
	}

	b := w.runBattery(ctx, entry.Text, entry.HTML, entry.URL, nil)
	b.relationToTopic = relationToTopic
	if !b.passesGate() {
		w.log.Warn().Str("url", entry.URL).Msg("life-safety analysis failed the non-empty gate, dropping")
		return
	}

	report := w.buildReport(topic, entry.Title, entry.URL, entry.Text, entry.PubDate, b, affectedSummary, time.Since(start))
	w.finish(ctx, report, entry.Text, entry.HTML, entry.BodyHash, entry.TitleDomainHash, entry.PubDate)
}

// buildAffectedSummary renders a sorted "city (name1, name2); city2
// (name3)." sentence from a city->names set, or "" if empty.
func buildAffectedSummary(byCity map[string]map[string]bool) string {
	if len(byCity) == 0 {
		return ""
	}
	cities := make([]string, 0, len(byCity))
	for c := range byCity {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	var parts []string
	for _, city := range cities {
		names := make([]string, 0, len(byCity[city]))
		for n := range byCity[city] {
			names = append(names, n)
		}
		sort.Strings(names)
		parts = append(parts, fmt.Sprintf("%s (%s)", city, strings.Join(names, ", ")))
	}
	return fmt.Sprintf("This article directly affects people in these locations: %s.", strings.Join(parts, "; "))
}

func (w *Worker) buildReport(topic, title, url, articleBody string, pubDate *time.Time, b battery, affected string, elapsed time.Duration) core.AnalysisReport {
	report := core.AnalysisReport{
		Topic:                 topic,
		Title:                 title,
		URL:                   url,
		ArticleBody:           articleBody,
		TinySummary:           b.tinySummary,
		TinyTitle:             b.tinyTitle,
		Summary:               b.summary,
		Affected:              affected,
		CriticalAnalysis:      b.criticalAnalysis,
		LogicalFallacies:      b.logicalFallacies,
		RelationToTopic:       b.relationToTopic,
		SourceAnalysis:        b.sourceAnalysis,
		AdditionalInsights:    b.additionalInsights,
		ActionRecommendations: b.actionRecommendations,
		TalkingPoints:         b.talkingPoints,
		ELI5:                  b.eli5,
		SourcesQuality:        b.sourcesQuality,
		ArgumentQuality:       b.argumentQuality,
		Quality:               calculateQualityScore(b.sourcesQuality, b.argumentQuality),
		SourceType:            b.sourceType,
		ElapsedTime:           elapsed.Seconds(),
		Model:                 w.modelName,
	}
	if pubDate != nil {
		report.PubDate = pubDate.Format(time.RFC3339)
	}
	return report
}

// finish implements the shared tail of both queue paths: persist, embed +
// extract entities + mine aliases + cluster, enrich with similar
// articles, upload the final report, and dispatch notifications.
func (w *Worker) finish(ctx context.Context, report core.AnalysisReport, articleText, html, bodyHash, titleDomainHash string, pubDate *time.Time) {
	preUpload, err := json.Marshal(report)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to marshal report for persistence")
		return
	}

	articleID, err := w.store.UpsertArticle(ctx, store.UpsertArticleParams{
		URL: report.URL, Title: report.Title, IsRelevant: true, Topic: report.Topic,
		Analysis: string(preUpload), TinySummary: report.TinySummary, BodyHash: bodyHash,
		TitleDomainHash: titleDomainHash, Quality: report.Quality, PubDate: pubDate,
	})
	if err != nil {
		w.log.Error().Err(err).Str("url", report.URL).Msg("failed to persist article, aborting")
		return
	}
	report.ID = articleID

	w.processSimilarity(ctx, articleID, &report, articleText, pubDate, report.Topic)

	final, err := json.Marshal(report)
	if err != nil {
		w.log.Error().Err(err).Int64("article_id", articleID).Msg("failed to marshal final report")
		final = preUpload
	}

	r2URL := ""
	if w.objects != nil {
		r2URL, err = w.objects.UploadReport(ctx, articleID, final)
		if err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to upload report, suppressing push")
		} else if err := w.store.SetArticleR2URL(ctx, articleID, r2URL); err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to record r2 url")
		}
	}

	if w.slack != nil {
		w.slack.Post(ctx, messaging.Report{
			ArticleID: articleID, Topic: report.Topic, Title: report.Title, URL: report.URL,
			Summary: report.Summary, TinySummary: report.TinySummary, CriticalAnalysis: report.CriticalAnalysis,
			LogicalFallacies: report.LogicalFallacies, SourceAnalysis: report.SourceAnalysis,
			RelationToTopic: report.RelationToTopic, Model: report.Model, ElapsedTime: report.ElapsedTime,
		})
	}

	if r2URL != "" {
		w.dispatchPush(ctx, report)
	}
}

func (w *Worker) dispatchPush(ctx context.Context, report core.AnalysisReport) {
	if w.push == nil {
		return
	}
	devices, err := w.store.FetchDevicesForTopic(ctx, report.Topic)
	if err != nil {
		w.log.Warn().Err(err).Str("topic", report.Topic).Msg("failed to load subscribed devices")
		return
	}
	payload := messaging.PushPayload{Title: report.TinyTitle, Body: report.TinySummary, URL: report.URL}
	for _, d := range devices {
		if err := w.push.Push(ctx, d.Token, messaging.PriorityFor(d.Priority), payload); err != nil {
			w.log.Warn().Err(err).Str("topic", report.Topic).Msg("failed to push to device")
		}
	}
}

// processSimilarity embeds the summary, extracts and persists entities,
// mines aliases, assigns/refreshes/merges clusters, stores the vector
// point, and runs the similarity search that populates
// report.SimilarArticles. Every step here is best-effort: a failure is
// logged and the pipeline continues, since the article is already
// persisted by the time this runs.
func (w *Worker) processSimilarity(ctx context.Context, articleID int64, report *core.AnalysisReport, articleText string, pubDate *time.Time, topic string) {
	embedding, err := w.gen.Embed(ctx, report.Summary)
	if err != nil {
		w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to generate embedding")
		return
	}

	var extracted core.ExtractionResult
	var entityIDs []int64
	if err := w.gen.GenerateJSON(ctx, fmt.Sprintf(llm.PromptEntityExtraction, articleText),
		json.RawMessage(llm.ExtractionSchema), llm.Options{Temperature: w.temperature}, &extracted); err != nil {
		w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to extract entities")
	} else {
		extracted.Entities = w.dedupeEntities(ctx, extracted.Entities)
		entityIDs, err = w.store.ProcessExtraction(ctx, articleID, extracted)
		if err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to persist extracted entities")
		} else {
			w.mineAliases(ctx, articleText, extracted)
		}
	}

	var eventDate *time.Time
	if extracted.EventDate != "" {
		if t, err := time.Parse(time.RFC3339, extracted.EventDate); err == nil {
			eventDate = &t
		}
	}

	var primaryIDs []int64
	for i, e := range extracted.Entities {
		if e.Importance == core.ImportancePrimary && i < len(entityIDs) {
			primaryIDs = append(primaryIDs, entityIDs[i])
		}
	}
	if len(primaryIDs) == 0 {
		primaryIDs = entityIDs
	}

	if w.clusters != nil && len(primaryIDs) > 0 {
		cluster, err := w.clusters.Assign(ctx, articleID, primaryIDs)
		if err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to assign cluster")
		} else {
			if err := w.store.SetArticleCluster(ctx, articleID, cluster.ID); err != nil {
				w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to record article cluster")
			}
			if err := w.clusters.RefreshSummary(ctx, cluster.ID); err != nil {
				w.log.Warn().Err(err).Int64("cluster_id", cluster.ID).Msg("failed to refresh cluster summary")
			}
			if err := w.clusters.RefreshSignificance(ctx, cluster.ID); err != nil {
				w.log.Warn().Err(err).Int64("cluster_id", cluster.ID).Msg("failed to refresh cluster significance")
			}
			if destID, err := w.clusters.CheckMerge(ctx, cluster.ID); err != nil {
				w.log.Warn().Err(err).Int64("cluster_id", cluster.ID).Msg("failed to check cluster merge")
			} else if destID != cluster.ID {
				if err := w.store.SetArticleCluster(ctx, articleID, destID); err != nil {
					w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to record merged cluster")
				}
			}
		}
	}

	if w.vectors != nil {
		if err := w.vectors.StorePoint(ctx, articleID, embedding, vectorstore.Payload{
			PubDate: pubDate, EventDate: eventDate, Category: topic, Quality: report.Quality, EntityIDs: entityIDs,
		}); err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to store embedding")
		}
	}

	if w.similarity != nil {
		similar, _, err := w.similarity.Find(ctx, articleID, embedding, entityIDs, eventDate, similarArticleLimit)
		if err != nil {
			w.log.Warn().Err(err).Int64("article_id", articleID).Msg("failed to run similarity search")
		} else {
			report.SimilarArticles = similar
		}
	}
}

// mineAliases extracts candidate aliases from the article text and stores
// each as a PENDING row, anchored to the entities this article's own
// extraction pass found.
func (w *Worker) mineAliases(ctx context.Context, articleText string, extracted core.ExtractionResult) {
	known := make(map[string]core.EntityType, len(extracted.Entities))
	for _, e := range extracted.Entities {
		known[entity.Normalize(e.Name, e.Type)] = e.Type
	}

	for _, c := range entity.Mine(articleText, known) {
		normCanon := entity.Normalize(c.Canonical, c.EntityType)
		normAlias := entity.Normalize(c.Alias, c.EntityType)
		if _, err := w.store.AddAlias(ctx, nil, c.Canonical, normCanon, c.Alias, normAlias, c.EntityType, c.Source, c.Confidence, core.AliasPending); err != nil {
			w.log.Debug().Err(err).Str("canonical", c.Canonical).Str("alias", c.Alias).Msg("failed to record mined alias")
		}
	}
}

// dedupeEntities collapses near-duplicate surface forms within a single
// extraction result (e.g. "Biden" and "President Biden" both surfacing as
// PERSON entities in the same article) via names_match, keeping the first
// occurrence's name and the highest-ranked importance among the
// duplicates. This runs once per article, over at most ~20 entities, so
// the pairwise comparison cost is negligible.
func (w *Worker) dedupeEntities(ctx context.Context, entities []core.ExtractedEntity) []core.ExtractedEntity {
	var kept []core.ExtractedEntity
	for _, e := range entities {
		merged := false
		for i := range kept {
			if kept[i].Type != e.Type {
				continue
			}
			same, err := w.matcher.NamesMatch(ctx, kept[i].Name, e.Name, e.Type)
			if err != nil {
				w.log.Debug().Err(err).Str("a", kept[i].Name).Str("b", e.Name).Msg("names_match check failed during dedupe")
				continue
			}
			if same {
				if moreImportant(e.Importance, kept[i].Importance) {
					kept[i].Importance = e.Importance
				}
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, e)
		}
	}
	return kept
}

func moreImportant(a, b core.Importance) bool {
	rank := map[core.Importance]int{
		core.ImportancePrimary:   3,
		core.ImportanceSecondary: 2,
		core.ImportanceMentioned: 1,
	}
	return rank[a] > rank[b]
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
