// Package config loads runtime configuration from a YAML file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultStoreDir     = "./data"
	defaultNamespace    = "rules"
	defaultJournalDir   = "./wal/journal"
	defaultProvider     = "simulate"
	defaultPriceSource  = "binance"
)

// Config is the validated runtime configuration.
type Config struct {
	Provider     string
	PriceSource  string
	PollInterval time.Duration
	StoreDir     string
	Namespace    string
	JournalDir   string
	WebAddr      string
	AddRule      bool
}

// ConfigTmp mirrors the YAML layout before validation.
type ConfigTmp struct {
	Provider     string        `yaml:"provider,omitempty"`
	PriceSource  string        `yaml:"price_source,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	StoreDir     string        `yaml:"store_dir,omitempty"`
	Namespace    string        `yaml:"namespace,omitempty"`
	JournalDir   string        `yaml:"journal_dir,omitempty"`
	WebAddr      string        `yaml:"web_addr,omitempty"`
}

// Get reads configuration from the path given with -config, falling back to
// CLI flags with defaults.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	providerFlag := flag.String("provider", defaultProvider, "purchase provider: simulate or binance")
	priceSourceFlag := flag.String("pricesource", defaultPriceSource, "exchange quoting simulated purchases: binance or bybit")
	pollFlag := flag.Duration("pollinterval", defaultPollInterval, "due-rule poll interval")
	storeDirFlag := flag.String("storedir", defaultStoreDir, "directory for the rule collection")
	namespaceFlag := flag.String("namespace", defaultNamespace, "rule collection namespace")
	journalDirFlag := flag.String("journaldir", defaultJournalDir, "directory for the purchase journal WAL")
	webFlag := flag.String("web", "", "status server listen address, empty disables")
	addFlag := flag.Bool("add", false, "run the interactive rule wizard before starting")
	flag.Parse()

	cfg := Config{
		Provider:     *providerFlag,
		PriceSource:  *priceSourceFlag,
		PollInterval: *pollFlag,
		StoreDir:     *storeDirFlag,
		Namespace:    *namespaceFlag,
		JournalDir:   *journalDirFlag,
		WebAddr:      *webFlag,
		AddRule:      *addFlag,
	}

	if *configPath != "" {
		fromYaml, err := getYaml(*configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = mergeYaml(cfg, fromYaml)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getYaml(path string) (ConfigTmp, error) {
	var tmp ConfigTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return ConfigTmp{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}

	return tmp, nil
}

func mergeYaml(cfg Config, tmp ConfigTmp) Config {
	if tmp.Provider != "" {
		cfg.Provider = tmp.Provider
	}
	if tmp.PriceSource != "" {
		cfg.PriceSource = tmp.PriceSource
	}
	if tmp.PollInterval > 0 {
		cfg.PollInterval = tmp.PollInterval
	}
	if tmp.StoreDir != "" {
		cfg.StoreDir = tmp.StoreDir
	}
	if tmp.Namespace != "" {
		cfg.Namespace = tmp.Namespace
	}
	if tmp.JournalDir != "" {
		cfg.JournalDir = tmp.JournalDir
	}
	if tmp.WebAddr != "" {
		cfg.WebAddr = tmp.WebAddr
	}
	return cfg
}

func (c Config) validate() error {
	switch c.Provider {
	case "simulate", "binance":
	default:
		return fmt.Errorf("unsupported provider %q, expected simulate or binance", c.Provider)
	}
	switch c.PriceSource {
	case "binance", "bybit":
	default:
		return fmt.Errorf("unsupported price source %q, expected binance or bybit", c.PriceSource)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir is required")
	}
	return nil
}
