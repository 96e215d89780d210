package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/stockpulse/core/allocation"
	"github.com/kilianp07/stockpulse/core/allocation/journal"
	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/consensus"
	"github.com/kilianp07/stockpulse/core/contribution"
	"github.com/kilianp07/stockpulse/core/metrics"
	"github.com/kilianp07/stockpulse/core/routing"
	"github.com/kilianp07/stockpulse/infra/feed"
	"github.com/kilianp07/stockpulse/infra/kafka"
	"github.com/kilianp07/stockpulse/infra/monitoring"
	"github.com/kilianp07/stockpulse/infra/mqtt"
	"github.com/kilianp07/stockpulse/infra/postgres"
)

// FixturesConfig points at the YAML or JSON file seeding the in-memory
// directory.
type FixturesConfig struct {
	Path string `json:"path"`
}

type Config struct {
	Pipeline     PipelineConfig          `json:"pipeline"`
	Consensus    consensus.Config        `json:"consensus"`
	Clustering   cluster.Config          `json:"clustering"`
	Contribution contribution.Config     `json:"contribution"`
	Routing      routing.Config          `json:"routing"`
	Fixtures     FixturesConfig          `json:"fixtures"`
	MQTT         mqtt.Config             `json:"mqtt"`
	Kafka        kafka.Config            `json:"kafka"`
	Postgres     postgres.Config         `json:"postgres"`
	Metrics      metrics.Config          `json:"metrics"`
	Journal      journal.Config          `json:"journal"`
	Logging      LoggingConfig           `json:"logging"`
	Sentry       monitoring.SentryConfig `json:"sentry"`
	Feed         feed.Config             `json:"feed"`
}

// Load reads a YAML or JSON file and applies K_ prefixed environment
// overrides, where "__" separates nested keys (K_CONSENSUS__THRESHOLD).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	// A zero threshold would be indistinguishable from an unset one.
	if k.Exists("consensus.threshold") && k.Float64("consensus.threshold") <= 0 {
		return nil, fmt.Errorf("consensus.threshold must be in (0,1); omit it for the default")
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Consensus.SetDefaults()
	c.Clustering.SetDefaults()
	c.Contribution.SetDefaults()
	c.Routing.SetDefaults()
	c.Logging.SetDefaults()
	c.Kafka.SetDefaults()
	c.Feed.SetDefaults()
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = "jsonl"
	}
	if c.Journal.Path == "" && c.Journal.Backend != "none" {
		c.Journal.Path = "allocation.jsonl"
	}
	c.Journal.SetDefaults()
}

// Validate checks the sections that carry invariants.
func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Consensus.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Feed.Enabled() && c.Feed.ClientID != "" && c.Feed.TokenURL == "" {
		return fmt.Errorf("feed: token_url is required with client credentials")
	}
	return nil
}

// Allocation assembles the orchestrator configuration.
func (c Config) Allocation() allocation.Config {
	cfg := allocation.Config{
		Workers:         c.Pipeline.Workers,
		RouteTimeout:    c.Pipeline.RouteTimeout,
		ConflictRetries: c.Pipeline.ConflictRetries,
		BulkBaseline:    c.Pipeline.BulkBaseline,
		Clustering:      c.Clustering,
		Consensus:       c.Consensus,
		Contribution:    c.Contribution,
		Routing:         c.Routing,
	}
	cfg.SetDefaults()
	return cfg
}
