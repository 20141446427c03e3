package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete claimgate configuration
type Config struct {
	Data         DataConfig         `yaml:"data" mapstructure:"data"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Similarity   SimilarityConfig   `yaml:"similarity" mapstructure:"similarity"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Compliance   ComplianceConfig   `yaml:"compliance" mapstructure:"compliance"`
	Storage      StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Delivery     DeliveryConfig     `yaml:"delivery" mapstructure:"delivery"`
	Identity     IdentityConfig     `yaml:"identity" mapstructure:"identity"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// DataConfig points at the file-backed collaborators
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
}

// VerificationConfig controls claim checking
type VerificationConfig struct {
	TolerancePercent float64 `yaml:"tolerance_percent" mapstructure:"tolerance_percent" validate:"gt=0,lte=100"`
	Workers          int     `yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=256"`
}

// SimilarityConfig selects the external similarity scorer
type SimilarityConfig struct {
	Method   string        `yaml:"method" mapstructure:"method" validate:"oneof=token embedding"`
	Provider string        `yaml:"provider,omitempty" mapstructure:"provider" validate:"omitempty,oneof=openai ollama"`
	Model    string        `yaml:"model,omitempty" mapstructure:"model"`
	APIKey   string        `yaml:"-" mapstructure:"api_key"`
	BaseURL  string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MemoTTL  time.Duration `yaml:"memo_ttl" mapstructure:"memo_ttl"`
}

// RetryConfig bounds collaborator calls
type RetryConfig struct {
	Attempts          int           `yaml:"attempts" mapstructure:"attempts" validate:"gte=1,lte=5"`
	BaseDelay         time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	CallTimeout       time.Duration `yaml:"call_timeout" mapstructure:"call_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// ComplianceConfig controls the export gate
type ComplianceConfig struct {
	DecisionTTL        time.Duration `yaml:"decision_ttl" mapstructure:"decision_ttl" validate:"gt=0"`
	RenewalWarningDays int           `yaml:"renewal_warning_days" mapstructure:"renewal_warning_days" validate:"gte=0"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory badger sqlite postgres"`
	Path       string `yaml:"path,omitempty" mapstructure:"path" validate:"required_if=Backend badger,required_if=Backend sqlite"`
	DSN        string `yaml:"-" mapstructure:"dsn" validate:"required_if=Backend postgres"`
	SyncWrites bool   `yaml:"sync_writes" mapstructure:"sync_writes"`
}

// CacheConfig controls read-through caching of manifests and registry lookups
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir,omitempty" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// SourcesConfig controls fetching of cited source pages
type SourcesConfig struct {
	Enabled           bool            `yaml:"enabled" mapstructure:"enabled"`
	Timeout           time.Duration   `yaml:"timeout" mapstructure:"timeout"`
	UserAgent         string          `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	RespectRobots     bool            `yaml:"respect_robots" mapstructure:"respect_robots"`
	RequestsPerSecond float64         `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int             `yaml:"burst" mapstructure:"burst" validate:"gte=1"`
	HTTPProxy         string          `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string          `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string          `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	Authority         AuthorityConfig `yaml:"authority" mapstructure:"authority"`
}

// AuthorityConfig defines source authority classification rules
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains" mapstructure:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains" mapstructure:"secondary_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
	PathPatterns     []PathPattern     `yaml:"path_patterns,omitempty" mapstructure:"path_patterns"`
}

// PathPattern maps a URL path regex to an authority tier name
type PathPattern struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Tier    string `yaml:"tier" mapstructure:"tier" validate:"oneof=primary secondary tertiary"`
}

// DeliveryConfig selects where export bundles go
type DeliveryConfig struct {
	Sink     string `yaml:"sink" mapstructure:"sink" validate:"oneof=dir s3 gcs"`
	Dir      string `yaml:"dir,omitempty" mapstructure:"dir" validate:"required_if=Sink dir"`
	Bucket   string `yaml:"bucket,omitempty" mapstructure:"bucket" validate:"required_if=Sink s3,required_if=Sink gcs"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region   string `yaml:"region,omitempty" mapstructure:"region"`
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
}

// IdentityConfig selects the actor identity provider
type IdentityConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider" validate:"oneof=static jwt"`
	Actor     Actor  `yaml:"actor" mapstructure:"actor"`
	JWTSecret string `yaml:"-" mapstructure:"jwt_secret" validate:"required_if=Provider jwt"`
	Issuer    string `yaml:"issuer,omitempty" mapstructure:"issuer"`
	Audience  string `yaml:"audience,omitempty" mapstructure:"audience"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{Dir: "./data"},
		Verification: VerificationConfig{
			TolerancePercent: 10,
			Workers:          8,
		},
		Similarity: SimilarityConfig{
			Method:  "token",
			Timeout: 30 * time.Second,
			MemoTTL: 24 * time.Hour,
		},
		Retry: RetryConfig{
			Attempts:          3,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			CallTimeout:       5 * time.Second,
			RequestsPerSecond: 50,
			Burst:             10,
		},
		Compliance: ComplianceConfig{
			DecisionTTL:        15 * time.Minute,
			RenewalWarningDays: 30,
		},
		Storage: StorageConfig{
			Backend:    "badger",
			Path:       "./data/store",
			SyncWrites: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "./data/cache",
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Sources: SourcesConfig{
			Enabled:           false,
			Timeout:           15 * time.Second,
			UserAgent:         "claimgate/0.3 (+https://github.com/ppiankov/claimgate)",
			MaxBodyBytes:      2_000_000,
			RespectRobots:     true,
			RequestsPerSecond: 1,
			Burst:             2,
			Authority:         DefaultAuthorityConfig(),
		},
		Delivery: DeliveryConfig{
			Sink: "dir",
			Dir:  "./exports",
		},
		Identity: IdentityConfig{
			Provider: "static",
			Actor:    Actor{ID: "local", Name: "Local Operator", Role: "researcher"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// DefaultAuthorityConfig returns the built-in source authority rules
func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		PrimaryDomains: []string{
			"doi.org", "pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov", "clinicaltrials.gov",
			"who.int", "nih.gov", "cdc.gov", "fda.gov", "ema.europa.eu",
			"nejm.org", "thelancet.com", "bmj.com", "jamanetwork.com", "nature.com",
			"sciencedirect.com", "springer.com", "wiley.com", "cochranelibrary.com",
		},
		SecondaryDomains: []string{
			"medrxiv.org", "biorxiv.org", "arxiv.org", "researchgate.net",
			"wikipedia.org", "scholar.google.com", "semanticscholar.org",
		},
		PathPatterns: []PathPattern{
			{Pattern: `^/doi/`, Tier: "primary"},
			{Pattern: `/pmc/articles/`, Tier: "primary"},
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its constraints
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
