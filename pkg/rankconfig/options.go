// Package rankconfig parses command-line flags and the provider
// credential file into the tunables every other package needs:
// rotation strategy, timeouts, bulk batching, rate limits, and the
// credential list itself.
package rankconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	envutil "github.com/projectdiscovery/utils/env"
	fileutil "github.com/projectdiscovery/utils/file"
	folderutil "github.com/projectdiscovery/utils/folder"

	"github.com/rankpilot/serpengine/pkg/credential"
)

var (
	configDir                     = folderutil.AppConfigDirOrDefault(".", "serpengine")
	defaultConfigLocation         = envutil.GetEnvOrDefault("SERPENGINE_CONFIG", filepath.Join(configDir, "config.yaml"))
	defaultProviderConfigLocation = envutil.GetEnvOrDefault("SERPENGINE_PROVIDER_CONFIG", filepath.Join(configDir, "provider-config.yaml"))
)

// Options holds every tunable configuration value this engine needs,
// sourced from flags, environment, and the provider config
// file.
type Options struct {
	Verbose  bool
	NoColor  bool
	JSON     bool
	LogLevel string

	Config         string
	ProviderConfig string

	DatabaseDSN string

	RotationStrategy string
	RequestTimeout   time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	MaxRetries       int

	BulkBatchSize       int
	BulkMaxConcurrent   int
	BulkInterBatchDelay time.Duration
	BulkRetryEnabled    bool
	BulkMaxRetries      int
	BulkAdaptiveDelay   bool

	RequestBodyLimitBytes int
	CleanupRetentionDays  int

	TargetDomain     string
	Keywords         goflags.StringSlice
	KeywordsFile     string
	Country          string
	Language         string
	City             string
	State            string
	Device           string
	VerificationMode bool
	APIKey           string

	Providers []ProviderEntry `yaml:"-"`
}

// ProviderEntry is one numbered credential entry in the provider
// config YAML file.
type ProviderEntry struct {
	Provider       string `yaml:"provider"`
	Secret         string `yaml:"secret"`
	SearchEngineID string `yaml:"search_engine_id,omitempty"`
	DailyLimit     int    `yaml:"daily_limit"`
	MonthlyLimit   int    `yaml:"monthly_limit"`
	Priority       int    `yaml:"priority"`
}

// providerConfigFile is the on-disk shape of the provider config.
type providerConfigFile struct {
	Credentials []ProviderEntry `yaml:"credentials"`
}

func (o Options) withDefaults() Options {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.RotationStrategy == "" {
		o.RotationStrategy = "priority"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RateLimitMax == 0 {
		o.RateLimitMax = 10
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BulkBatchSize <= 0 {
		o.BulkBatchSize = 5
	}
	if o.BulkMaxConcurrent <= 0 {
		o.BulkMaxConcurrent = 2
	}
	if o.BulkInterBatchDelay <= 0 {
		o.BulkInterBatchDelay = 2000 * time.Millisecond
	}
	if o.BulkMaxRetries <= 0 {
		o.BulkMaxRetries = 2
	}
	if o.RequestBodyLimitBytes <= 0 {
		o.RequestBodyLimitBytes = 1 << 20
	}
	if o.CleanupRetentionDays <= 0 {
		o.CleanupRetentionDays = 90
	}
	if o.Device == "" {
		o.Device = "desktop"
	}
	return o
}

// ParseOptions parses command-line flags, merges an optional config
// file, and loads (or bootstraps) the provider credential file.
func ParseOptions() (*Options, error) {
	options := &Options{}
	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("serpengine - SERP rank tracking engine with credential-pooled upstream lookups")

	flagSet.CreateGroup("input", "Configuration",
		flagSet.StringVar(&options.Config, "config", defaultConfigLocation, "main configuration file path"),
		flagSet.StringVarP(&options.ProviderConfig, "provider-config", "pc", defaultProviderConfigLocation, "credential provider configuration file"),
		flagSet.StringVar(&options.DatabaseDSN, "db-dsn", envutil.GetEnvOrDefault("SERPENGINE_DB_DSN", ""), "Postgres connection string; empty uses an in-memory store"),
	)

	flagSet.CreateGroup("target", "Lookup Target",
		flagSet.StringVarP(&options.TargetDomain, "domain", "d", "", "target domain to track rankings for"),
		flagSet.StringSliceVarP(&options.Keywords, "keyword", "k", nil, "keyword(s) to look up, comma separated", goflags.NormalizedStringSliceOptions),
		flagSet.StringVar(&options.KeywordsFile, "keyword-list", "", "file containing one keyword per line, for a bulk run"),
		flagSet.StringVar(&options.Country, "country", "US", "search country code"),
		flagSet.StringVar(&options.Language, "language", "en", "search language code"),
		flagSet.StringVar(&options.City, "city", "", "search city, for location-targeted lookups"),
		flagSet.StringVar(&options.State, "state", "", "search state/region, for location-targeted lookups"),
		flagSet.StringVar(&options.Device, "device", "desktop", "device class (desktop, mobile, tablet)"),
		flagSet.BoolVar(&options.VerificationMode, "verify", false, "cross-check the reported position against the feature-offset derivation"),
		flagSet.StringVar(&options.APIKey, "api-key", "", "bypass the credential pool with a user-supplied key for this run"),
	)

	flagSet.CreateGroup("pool", "Credential Pool",
		flagSet.StringVar(&options.RotationStrategy, "strategy", "priority", "credential rotation strategy (priority, least_used, round_robin)"),
		flagSet.DurationVar(&options.RequestTimeout, "request-timeout", 30*time.Second, "per-request abort deadline"),
		flagSet.IntVar(&options.MaxRetries, "max-retries", 5, "maximum credential rotations per lookup"),
		flagSet.IntVar(&options.RateLimitMax, "rate-limit-max", 10, "maximum outbound requests per second, per provider"),
		flagSet.DurationVar(&options.RateLimitWindow, "rate-limit-window", time.Second, "rate-limit window duration (not passed to the pool, whose limiter always uses a one-second window)"),
	)

	flagSet.CreateGroup("bulk", "Bulk Execution",
		flagSet.IntVar(&options.BulkBatchSize, "batch-size", 5, "keywords per batch"),
		flagSet.IntVar(&options.BulkMaxConcurrent, "max-concurrent", 2, "concurrent lookups within a batch"),
		flagSet.DurationVar(&options.BulkInterBatchDelay, "inter-batch-delay", 2000*time.Millisecond, "baseline delay between batches"),
		flagSet.BoolVar(&options.BulkRetryEnabled, "retry-enabled", true, "retry keywords that failed after the initial pass"),
		flagSet.IntVar(&options.BulkMaxRetries, "bulk-max-retries", 2, "retry passes for persistently failing keywords"),
		flagSet.BoolVar(&options.BulkAdaptiveDelay, "adaptive-delay", true, "scale inter-batch delay to pool usage and batch success rate"),
	)

	flagSet.CreateGroup("limits", "Request Limits",
		flagSet.IntVar(&options.RequestBodyLimitBytes, "max-body-bytes", 1<<20, "maximum accepted request body size"),
		flagSet.IntVar(&options.CleanupRetentionDays, "retention-days", 90, "days a ranking record is kept before weekly cleanup deletes it"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVar(&options.Verbose, "v", false, "verbose output"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable colorized output"),
		flagSet.BoolVarP(&options.JSON, "json", "oJ", false, "structured JSON log output"),
		flagSet.StringVar(&options.LogLevel, "log-level", "info", "log level (debug, info, warning, error)"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if options.Config != defaultConfigLocation {
		if err := flagSet.MergeConfigFile(options.Config); err != nil && !os.IsNotExist(err) {
			gologger.Error().Msgf("could not read config: %s", err)
		}
	}

	*options = options.withDefaults()

	if err := options.loadProviderConfig(); err != nil {
		return nil, err
	}

	return options, nil
}

// loadProviderConfig reads the numbered credential entries from
// ProviderConfig, bootstrapping a default (empty, commented) file if
// none exists yet.
func (o *Options) loadProviderConfig() error {
	if !fileutil.FileExists(o.ProviderConfig) {
		if err := writeDefaultProviderConfig(o.ProviderConfig); err != nil {
			gologger.Error().Msgf("could not create provider config file: %s", err)
		}
		return nil
	}

	entries, err := unmarshalProviderConfig(o.ProviderConfig)
	if err != nil {
		return fmt.Errorf("reading provider config %s: %w", o.ProviderConfig, err)
	}
	o.Providers = entries
	return nil
}

// ToCredentials converts the configured provider entries into
// pool-ready credentials.
func (o *Options) ToCredentials() []*credential.Credential {
	creds := make([]*credential.Credential, 0, len(o.Providers))
	for _, entry := range o.Providers {
		c := credential.New(credential.Provider(entry.Provider), entry.Secret, entry.DailyLimit, entry.MonthlyLimit, credential.OriginConfigured)
		c.SearchEngineID = entry.SearchEngineID
		if entry.Priority > 0 {
			c.Priority = entry.Priority
		}
		creds = append(creds, c)
	}
	return creds
}
