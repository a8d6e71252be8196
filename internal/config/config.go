// Package config loads Argus configuration from the environment, the way
// the teacher's config package layers godotenv (for a local .env file)
// under viper (for env binding and defaults).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Topic is one configured subject the decision pool matches articles
// against, with its own Slack destination.
type Topic struct {
	Name          string
	Prompt        string
	SlackChannel  string
}

// EndpointConfig is one `host|port|model[/no_think]` entry from an
// *_OLLAMA_CONFIGS env var.
type EndpointConfig struct {
	Host     string
	Port     int
	Model    string
	NoThink  bool
	Fallback *EndpointConfig // set when the entry carried a `||host|port|model` suffix
}

// Config holds every setting Argus needs to run the pipeline and the API.
type Config struct {
	Topics  []Topic
	FeedURLs []string

	DecisionEndpoints []EndpointConfig
	AnalysisEndpoints []EndpointConfig

	QdrantURL           string
	QdrantCollection    string
	EmbeddingDimensions int

	ObjectStoreBucket   string
	ObjectStoreEndpoint string
	ObjectStoreRegion   string
	ObjectStoreKeyID    string
	ObjectStoreSecret   string
	ObjectStorePublicBase string

	SlackToken string

	JWTSigningSecret string

	PushEndpoint string
	PushAPIKey   string

	// PlacesPath points at a JSON file describing the continent/country/region
	// hierarchy the decision pool validates threat locations against. Empty
	// means fall back to decision.DefaultPlaces.
	PlacesPath string

	HTTPHost string
	HTTPPort int

	CORSEnabled   bool
	CORSOrigins   []string
	RateLimitEnabled bool

	DatabasePath string

	Debug bool
}

// Load reads .env (if present) then binds environment variables, following
// the teacher's godotenv-then-viper order so a local .env can seed values
// that real environment variables still override.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DATABASE_PATH", "./argus.db")
	v.SetDefault("QDRANT_COLLECTION", "argus_articles")
	v.SetDefault("EMBEDDING_DIMENSIONS", 1024)

	cfg := &Config{
		HTTPHost:               v.GetString("HTTP_HOST"),
		HTTPPort:               v.GetInt("PORT"),
		CORSEnabled:            v.GetBool("CORS_ENABLED"),
		CORSOrigins:            ParseFeedURLs(v.GetString("CORS_ORIGINS")),
		RateLimitEnabled:       v.GetBool("RATE_LIMIT_ENABLED"),
		DatabasePath:           v.GetString("DATABASE_PATH"),
		QdrantURL:              v.GetString("QDRANT_URL"),
		QdrantCollection:       v.GetString("QDRANT_COLLECTION"),
		EmbeddingDimensions:    v.GetInt("EMBEDDING_DIMENSIONS"),
		ObjectStoreBucket:      v.GetString("OBJECT_STORE_BUCKET"),
		ObjectStoreEndpoint:    v.GetString("OBJECT_STORE_ENDPOINT"),
		ObjectStoreRegion:      v.GetString("OBJECT_STORE_REGION"),
		ObjectStoreKeyID:       v.GetString("OBJECT_STORE_ACCESS_KEY_ID"),
		ObjectStoreSecret:      v.GetString("OBJECT_STORE_SECRET_ACCESS_KEY"),
		ObjectStorePublicBase:  v.GetString("OBJECT_STORE_PUBLIC_BASE_URL"),
		SlackToken:             v.GetString("SLACK_TOKEN"),
		JWTSigningSecret:       v.GetString("JWT_SIGNING_SECRET"),
		PushEndpoint:           v.GetString("PUSH_ENDPOINT"),
		PushAPIKey:             v.GetString("PUSH_API_KEY"),
		PlacesPath:             v.GetString("PLACES_PATH"),
		Debug:                  v.GetBool("DEBUG"),
	}

	var err error
	cfg.Topics, err = ParseTopics(v.GetString("TOPICS"))
	if err != nil {
		return nil, fmt.Errorf("parsing TOPICS: %w", err)
	}

	cfg.FeedURLs = ParseFeedURLs(v.GetString("URLS"))

	cfg.DecisionEndpoints, err = ParseEndpoints(firstNonEmpty(v.GetString("DECISION_OLLAMA_CONFIGS"), v.GetString("OLLAMA_CONFIGS")))
	if err != nil {
		return nil, fmt.Errorf("parsing DECISION_OLLAMA_CONFIGS: %w", err)
	}
	cfg.AnalysisEndpoints, err = ParseEndpoints(firstNonEmpty(v.GetString("ANALYSIS_OLLAMA_CONFIGS"), v.GetString("OLLAMA_CONFIGS")))
	if err != nil {
		return nil, fmt.Errorf("parsing ANALYSIS_OLLAMA_CONFIGS: %w", err)
	}

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH is required")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseTopics parses TOPICS: newline-separated `name:prompt[:slack_channel]`.
func ParseTopics(raw string) ([]Topic, error) {
	var topics []Topic
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed topic entry %q: want name:prompt[:slack_channel]", line)
		}
		topic := Topic{
			Name:   strings.TrimSpace(parts[0]),
			Prompt: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			topic.SlackChannel = strings.TrimSpace(parts[2])
		}
		if topic.Name == "" || topic.Prompt == "" {
			return nil, fmt.Errorf("malformed topic entry %q: name and prompt are required", line)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// ParseFeedURLs parses URLS: semicolon-separated feed URLs.
func ParseFeedURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ";") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ParseEndpoints parses a semicolon-separated list of `host|port|model`
// entries, each model optionally suffixed `/no_think`, and each entry
// optionally carrying a `||host|port|model` fallback suffix.
func ParseEndpoints(raw string) ([]EndpointConfig, error) {
	var endpoints []EndpointConfig
	if strings.TrimSpace(raw) == "" {
		return endpoints, nil
	}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		primary, fallback, hasFallback := strings.Cut(entry, "||")
		ep, err := parseEndpoint(primary)
		if err != nil {
			return nil, err
		}
		if hasFallback {
			fb, err := parseEndpoint(fallback)
			if err != nil {
				return nil, fmt.Errorf("parsing fallback endpoint: %w", err)
			}
			ep.Fallback = &fb
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func parseEndpoint(s string) (EndpointConfig, error) {
	fields := strings.Split(s, "|")
	if len(fields) != 3 {
		return EndpointConfig{}, fmt.Errorf("malformed endpoint %q: want host|port|model", s)
	}
	port, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("malformed port in endpoint %q: %w", s, err)
	}
	model := strings.TrimSpace(fields[2])
	noThink := false
	if strings.HasSuffix(model, "/no_think") {
		noThink = true
		model = strings.TrimSuffix(model, "/no_think")
	}
	return EndpointConfig{
		Host:    strings.TrimSpace(fields[0]),
		Port:    port,
		Model:   model,
		NoThink: noThink,
	}, nil
}

// FormatModelName renders an endpoint's model name back into the
// `model[/no_think]` wire form it was parsed from.
func FormatModelName(model string, noThink bool) string {
	if noThink {
		return model + "/no_think"
	}
	return model
}

// ParseModelName is the left inverse of FormatModelName.
func ParseModelName(s string) (model string, noThink bool) {
	if strings.HasSuffix(s, "/no_think") {
		return strings.TrimSuffix(s, "/no_think"), true
	}
	return s, false
}
