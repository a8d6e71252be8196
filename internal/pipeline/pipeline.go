// Package pipeline wires every Argus component into the one running
// process described in spec.md §5: a single feed ingester, a pool of
// decision workers, a pool of analysis workers, and the HTTP API, all
// sharing one store, one vector index, and one object store handle.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"argus/internal/analysis"
	"argus/internal/clustering"
	"argus/internal/config"
	"argus/internal/decision"
	"argus/internal/extract"
	"argus/internal/feeds"
	"argus/internal/llm"
	"argus/internal/logger"
	"argus/internal/messaging"
	"argus/internal/objectstore"
	"argus/internal/server"
	"argus/internal/similarity"
	"argus/internal/store"
	"argus/internal/vectorstore"
)

const (
	// battery temperature per spec.md §4.5: deterministic decisions and
	// summaries run low, never zero (a little variance still helps the
	// threat cascade avoid pathological repeats on near-identical prompts).
	batteryTemperature = 0.2

	httpReadTimeout   = 15 * time.Second
	httpWriteTimeout  = 15 * time.Second
	httpShutdownGrace = 10 * time.Second

	// fallbackWorkerIDBase separates a fallback decision worker's log lines
	// from the real decision pool's; fallback workers never run their own
	// Run loop; they are only invoked through an analysis worker's
	// FallbackProcessor during an idle stretch.
	fallbackWorkerIDBase = 1000
)

// Run constructs every collaborator the pipeline needs - the store, the
// vector index, the object store, the notification sinks, the decision
// and analysis worker pools, and the HTTP API - and runs them all under
// one errgroup until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("closing store")
		}
	}()

	vectors, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}

	objects, err := objectstore.New(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreRegion, cfg.ObjectStoreBucket,
		cfg.ObjectStoreKeyID, cfg.ObjectStoreSecret, cfg.ObjectStorePublicBase)
	if err != nil {
		return fmt.Errorf("connecting to object store: %w", err)
	}

	places, err := decision.LoadPlaces(cfg.PlacesPath)
	if err != nil {
		return fmt.Errorf("loading places hierarchy: %w", err)
	}
	placesDetailed, err := analysis.LoadPlacesDetailed(cfg.PlacesPath)
	if err != nil {
		return fmt.Errorf("loading detailed places hierarchy: %w", err)
	}

	topicChannels := make(map[string]string, len(cfg.Topics))
	topicNames := make([]string, 0, len(cfg.Topics))
	for _, t := range cfg.Topics {
		topicNames = append(topicNames, t.Name)
		if t.SlackChannel != "" {
			topicChannels[t.Name] = t.SlackChannel
		}
	}
	slack := messaging.NewSlackSink(cfg.SlackToken, "", topicChannels)
	push := messaging.NewHTTPPusher(cfg.PushEndpoint, cfg.PushAPIKey)

	extractor := extract.New()
	ingester := feeds.New(st, cfg.FeedURLs)

	decisionWorkers, err := buildDecisionPool(cfg, st, extractor, places)
	if err != nil {
		return err
	}

	similarityEngine := similarity.New(vectors, st)

	if len(cfg.AnalysisEndpoints) == 0 {
		return fmt.Errorf("no analysis endpoints configured")
	}
	clusterClient, err := llm.NewClient(cfg.AnalysisEndpoints[0].Host, cfg.AnalysisEndpoints[0].Port,
		cfg.AnalysisEndpoints[0].Model, cfg.AnalysisEndpoints[0].NoThink)
	if err != nil {
		return fmt.Errorf("building clustering summary client: %w", err)
	}
	clusterEngine := clustering.New(st, clusterClient)

	analysisWorkers, err := buildAnalysisPool(cfg, st, extractor, places, vectors, objects, slack, push, similarityEngine, clusterEngine, placesDetailed)
	if err != nil {
		return err
	}

	httpServer := server.New(st, server.Config{
		Host:             cfg.HTTPHost,
		Port:             cfg.HTTPPort,
		ReadTimeout:      httpReadTimeout,
		WriteTimeout:     httpWriteTimeout,
		JWTSigningKey:    []byte(cfg.JWTSigningSecret),
		Topics:           topicNames,
		CORSEnabled:      cfg.CORSEnabled,
		CORSOrigins:      cfg.CORSOrigins,
		RateLimitEnabled: cfg.RateLimitEnabled,
	}, log.With().Str("component", "http").Logger())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ingester.Run(gctx) })

	for _, w := range decisionWorkers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	for _, w := range analysisWorkers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return httpServer.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildDecisionPool builds one decision.Worker per configured decision
// endpoint, each bound to its own model client.
func buildDecisionPool(cfg *config.Config, st *store.Store, extractor *extract.Extractor, places decision.PlacesHierarchy) ([]*decision.Worker, error) {
	workers := make([]*decision.Worker, 0, len(cfg.DecisionEndpoints))
	for i, ep := range cfg.DecisionEndpoints {
		client, err := llm.NewClient(ep.Host, ep.Port, ep.Model, ep.NoThink)
		if err != nil {
			return nil, fmt.Errorf("building decision endpoint %d client: %w", i, err)
		}
		model := config.FormatModelName(ep.Model, ep.NoThink)
		workers = append(workers, decision.New(i, model, batteryTemperature, st, client, extractor, cfg.Topics, places))
	}
	return workers, nil
}

// buildAnalysisPool builds one analysis.Worker per configured analysis
// endpoint. An endpoint carrying a `||host|port|model` fallback suffix
// gets its own decision.Worker bound to the fallback model, wired in as
// the analysis worker's FallbackProcessor - not run on its own, only
// invoked by the analysis worker while in fallback mode.
func buildAnalysisPool(
	cfg *config.Config,
	st *store.Store,
	extractor *extract.Extractor,
	decisionPlaces decision.PlacesHierarchy,
	vectors vectorstore.Store,
	objects *objectstore.Client,
	slack *messaging.SlackSink,
	push *messaging.HTTPPusher,
	similarityEngine *similarity.Engine,
	clusterEngine *clustering.Engine,
	places analysis.PlacesDetailed,
) ([]*analysis.Worker, error) {
	workers := make([]*analysis.Worker, 0, len(cfg.AnalysisEndpoints))
	for i, ep := range cfg.AnalysisEndpoints {
		client, err := llm.NewClient(ep.Host, ep.Port, ep.Model, ep.NoThink)
		if err != nil {
			return nil, fmt.Errorf("building analysis endpoint %d client: %w", i, err)
		}

		var fallback analysis.FallbackProcessor
		var fallbackProber analysis.Prober
		if ep.Fallback != nil {
			fbClient, err := llm.NewClient(ep.Fallback.Host, ep.Fallback.Port, ep.Fallback.Model, ep.Fallback.NoThink)
			if err != nil {
				return nil, fmt.Errorf("building analysis endpoint %d fallback client: %w", i, err)
			}
			fbModel := config.FormatModelName(ep.Fallback.Model, ep.Fallback.NoThink)
			fallback = decision.New(fallbackWorkerIDBase+i, fbModel, batteryTemperature, st, fbClient, extractor, cfg.Topics, decisionPlaces)
			fallbackProber = fbClient
		}

		model := config.FormatModelName(ep.Model, ep.NoThink)
		workers = append(workers, analysis.New(analysis.Config{
			ID:             i,
			ModelName:      model,
			Temperature:    batteryTemperature,
			Store:          st,
			Generator:      client,
			Prober:         client,
			Similarity:     similarityEngine,
			Clusters:       clusterEngine,
			Vectors:        vectors,
			Objects:        objects,
			Slack:          slack,
			Push:           push,
			Places:         places,
			Fallback:       fallback,
			FallbackProber: fallbackProber,
			Equivalence:    st,
		}))
	}
	return workers, nil
}
