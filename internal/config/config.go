// Package config provides configuration management for filmqa.
// It loads settings from environment variables with the FILMQA_ prefix,
// optionally layered over a YAML file, and provides sensible defaults for all
// configuration options.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for filmqa.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Graph     GraphConfig     `yaml:"graph"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Intent    IntentConfig    `yaml:"intent"`
	Ranker    RankerConfig    `yaml:"ranker"`
	NLP       NLPConfig       `yaml:"nlp"`
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
	Agent     AgentConfig     `yaml:"agent"`
}

// DataConfig points at the persisted inputs.
type DataConfig struct {
	Dir                string `yaml:"dir"`                 // Base directory (default: $XDG_DATA_HOME/filmqa)
	GraphFile          string `yaml:"graph_file"`          // Turtle graph file
	DatabasePath       string `yaml:"database_path"`       // SQLite triple store
	EntityEmbeddings   string `yaml:"entity_embeddings"`   // .npy entity table
	EntityIDs          string `yaml:"entity_ids"`          // index<TAB>identifier mapping
	RelationEmbeddings string `yaml:"relation_embeddings"` // .npy relation table
	RelationIDs        string `yaml:"relation_ids"`        // index<TAB>identifier mapping
}

// GraphConfig names the predicates the query executor follows.
type GraphConfig struct {
	LabelPredicate        string `yaml:"label_predicate"`
	LabelLanguage         string `yaml:"label_language"`
	DirectorPredicate     string `yaml:"director_predicate"`
	ScreenwriterPredicate string `yaml:"screenwriter_predicate"`
	ReleaseDatePredicate  string `yaml:"release_date_predicate"`
	DescriptionPredicate  string `yaml:"description_predicate"`
}

// ResolverConfig tunes entity resolution.
type ResolverConfig struct {
	FuzzyThreshold int      `yaml:"fuzzy_threshold"` // Minimum accepted score, 0-100 (default: 80)
	MinInputLength int      `yaml:"min_input_length"`
	StopWords      []string `yaml:"stop_words"`
}

// IntentConfig holds the keyword lists for each symbolic intent.
type IntentConfig struct {
	Director     []string `yaml:"director"`
	Screenwriter []string `yaml:"screenwriter"`
	ReleaseDate  []string `yaml:"release_date"`
}

// RankerConfig selects the similarity backend.
type RankerConfig struct {
	TopK        int    `yaml:"top_k"`
	Backend     string `yaml:"backend"` // memory or postgres (default: memory)
	PostgresDSN string `yaml:"postgres_dsn"`
}

// NLPConfig selects the entity extraction capability.
type NLPConfig struct {
	Provider string        `yaml:"provider"` // prose, ollama, openai, anthropic (default: prose)
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TransportConfig selects and configures the chat transport.
type TransportConfig struct {
	Kind          string  `yaml:"kind"`  // http or spool (default: spool)
	Alias         string  `yaml:"alias"` // the agent's own sender name (default: filmqa)
	BaseURL       string  `yaml:"base_url"`
	Token         string  `yaml:"token"`
	SpoolDir      string  `yaml:"spool_dir"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ServerConfig contains the status HTTP server configuration.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`  // default: 127.0.0.1
	Port    int    `yaml:"port"`  // default: 6464
	Token   string `yaml:"token"` // bearer token for /api/, empty disables auth
}

// AgentConfig controls the polling loop.
type AgentConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"` // default: 2s
	CallTimeout    time.Duration `yaml:"call_timeout"`  // per external call (default: 30s)
	LinkPrediction bool          `yaml:"link_prediction"`
	Verbose        bool          `yaml:"verbose"`
	FailFast       bool          `yaml:"fail_fast"` // terminate when loading fails
}

// Addr returns host:port for the status server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the FILMQA_ prefix.
func LoadConfig() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads the YAML file at path over the defaults and then
// applies environment overrides. An empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyEnv(cfg)
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir: filepath.Join(xdg.DataHome, "filmqa"),
		},
		Graph: GraphConfig{
			LabelPredicate:        "http://www.w3.org/2000/01/rdf-schema#label",
			LabelLanguage:         "en",
			DirectorPredicate:     "http://www.wikidata.org/prop/direct/P57",
			ScreenwriterPredicate: "http://www.wikidata.org/prop/direct/P58",
			ReleaseDatePredicate:  "http://www.wikidata.org/prop/direct/P577",
			DescriptionPredicate:  "http://schema.org/description",
		},
		Resolver: ResolverConfig{
			FuzzyThreshold: 80,
			MinInputLength: 3,
			StopWords: []string{
				"who", "what", "when", "which", "where", "how", "is", "was",
				"the", "a", "an", "of", "did", "does",
				"director", "directed", "direct", "writer", "screenwriter", "wrote",
				"author", "released", "release", "published", "date", "movie", "film",
			},
		},
		Intent: IntentConfig{
			Director:     []string{"director", "directed", "direct"},
			Screenwriter: []string{"screenwriter", "writer", "wrote", "written", "author"},
			ReleaseDate:  []string{"release", "released", "published", "publication", "came out"},
		},
		Ranker: RankerConfig{
			TopK:    5,
			Backend: "memory",
		},
		NLP: NLPConfig{
			Provider: "prose",
			Timeout:  30 * time.Second,
		},
		Transport: TransportConfig{
			Kind:          "spool",
			Alias:         "filmqa",
			RatePerSecond: 5,
			Burst:         10,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    6464,
		},
		Agent: AgentConfig{
			PollInterval:   2 * time.Second,
			CallTimeout:    30 * time.Second,
			LinkPrediction: true,
		},
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Resolver.FuzzyThreshold < 0 || c.Resolver.FuzzyThreshold > 100 {
		return fmt.Errorf("config: fuzzy_threshold must be within 0-100, got %d", c.Resolver.FuzzyThreshold)
	}
	if c.Resolver.MinInputLength < 1 {
		return fmt.Errorf("config: min_input_length must be >= 1, got %d", c.Resolver.MinInputLength)
	}
	if c.Ranker.TopK < 1 {
		return fmt.Errorf("config: top_k must be >= 1, got %d", c.Ranker.TopK)
	}
	switch c.Ranker.Backend {
	case "memory":
	case "postgres":
		if c.Ranker.PostgresDSN == "" {
			return errors.New("config: postgres ranker backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unsupported ranker backend %q", c.Ranker.Backend)
	}
	switch c.NLP.Provider {
	case "prose", "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("config: unsupported nlp provider %q", c.NLP.Provider)
	}
	switch c.Transport.Kind {
	case "spool":
	case "http":
		if c.Transport.BaseURL == "" {
			return errors.New("config: http transport requires base_url")
		}
	default:
		return fmt.Errorf("config: unsupported transport %q", c.Transport.Kind)
	}
	if c.Agent.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %v", c.Agent.PollInterval)
	}
	if c.Agent.CallTimeout <= 0 {
		return fmt.Errorf("config: call_timeout must be positive, got %v", c.Agent.CallTimeout)
	}
	return nil
}

// resolvePaths fills unset data paths relative to Data.Dir.
func (c *Config) resolvePaths() {
	d := &c.Data
	setDefault := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(d.Dir, name)
		}
	}
	setDefault(&d.GraphFile, "14_graph.ttl")
	setDefault(&d.DatabasePath, "graph.db")
	setDefault(&d.EntityEmbeddings, filepath.Join("ddis-graph-embeddings", "entity_embeds.npy"))
	setDefault(&d.EntityIDs, filepath.Join("ddis-graph-embeddings", "entity_ids.del"))
	setDefault(&d.RelationEmbeddings, filepath.Join("ddis-graph-embeddings", "relation_embeds.npy"))
	setDefault(&d.RelationIDs, filepath.Join("ddis-graph-embeddings", "relation_ids.del"))
	if c.Transport.SpoolDir == "" {
		c.Transport.SpoolDir = filepath.Join(d.Dir, "spool")
	}
}

// applyEnv overrides cfg with any FILMQA_ environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Data.Dir = getEnv("FILMQA_DATA_DIR", cfg.Data.Dir)
	cfg.Data.GraphFile = getEnv("FILMQA_GRAPH_FILE", cfg.Data.GraphFile)
	cfg.Data.DatabasePath = getEnv("FILMQA_DATABASE_PATH", cfg.Data.DatabasePath)
	cfg.Data.EntityEmbeddings = getEnv("FILMQA_ENTITY_EMBEDDINGS", cfg.Data.EntityEmbeddings)
	cfg.Data.EntityIDs = getEnv("FILMQA_ENTITY_IDS", cfg.Data.EntityIDs)
	cfg.Data.RelationEmbeddings = getEnv("FILMQA_RELATION_EMBEDDINGS", cfg.Data.RelationEmbeddings)
	cfg.Data.RelationIDs = getEnv("FILMQA_RELATION_IDS", cfg.Data.RelationIDs)

	cfg.Graph.LabelLanguage = getEnv("FILMQA_LABEL_LANGUAGE", cfg.Graph.LabelLanguage)

	cfg.Resolver.FuzzyThreshold = getEnvInt("FILMQA_FUZZY_THRESHOLD", cfg.Resolver.FuzzyThreshold)
	cfg.Resolver.MinInputLength = getEnvInt("FILMQA_MIN_INPUT_LENGTH", cfg.Resolver.MinInputLength)

	cfg.Ranker.TopK = getEnvInt("FILMQA_TOP_K", cfg.Ranker.TopK)
	cfg.Ranker.Backend = getEnv("FILMQA_RANKER_BACKEND", cfg.Ranker.Backend)
	cfg.Ranker.PostgresDSN = getEnv("FILMQA_POSTGRES_DSN", cfg.Ranker.PostgresDSN)

	cfg.NLP.Provider = getEnv("FILMQA_NLP_PROVIDER", cfg.NLP.Provider)
	cfg.NLP.Model = getEnv("FILMQA_NLP_MODEL", cfg.NLP.Model)
	cfg.NLP.BaseURL = getEnv("FILMQA_NLP_BASE_URL", cfg.NLP.BaseURL)
	cfg.NLP.APIKey = getEnv("FILMQA_NLP_API_KEY", cfg.NLP.APIKey)
	cfg.NLP.Timeout = getEnvDuration("FILMQA_NLP_TIMEOUT", cfg.NLP.Timeout)

	cfg.Transport.Kind = getEnv("FILMQA_TRANSPORT", cfg.Transport.Kind)
	cfg.Transport.Alias = getEnv("FILMQA_ALIAS", cfg.Transport.Alias)
	cfg.Transport.BaseURL = getEnv("FILMQA_TRANSPORT_URL", cfg.Transport.BaseURL)
	cfg.Transport.Token = getEnv("FILMQA_TRANSPORT_TOKEN", cfg.Transport.Token)
	cfg.Transport.SpoolDir = getEnv("FILMQA_SPOOL_DIR", cfg.Transport.SpoolDir)
	cfg.Transport.RatePerSecond = getEnvFloat("FILMQA_TRANSPORT_RATE", cfg.Transport.RatePerSecond)
	cfg.Transport.Burst = getEnvInt("FILMQA_TRANSPORT_BURST", cfg.Transport.Burst)

	cfg.Server.Enabled = getEnvBool("FILMQA_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Host = getEnv("FILMQA_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("FILMQA_PORT", cfg.Server.Port)
	cfg.Server.Token = getEnv("FILMQA_SERVER_TOKEN", cfg.Server.Token)

	cfg.Agent.PollInterval = getEnvDuration("FILMQA_POLL_INTERVAL", cfg.Agent.PollInterval)
	cfg.Agent.CallTimeout = getEnvDuration("FILMQA_CALL_TIMEOUT", cfg.Agent.CallTimeout)
	cfg.Agent.LinkPrediction = getEnvBool("FILMQA_LINK_PREDICTION", cfg.Agent.LinkPrediction)
	cfg.Agent.Verbose = getEnvBool("FILMQA_VERBOSE", cfg.Agent.Verbose)
	cfg.Agent.FailFast = getEnvBool("FILMQA_FAIL_FAST", cfg.Agent.FailFast)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration (e.g. "2s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
