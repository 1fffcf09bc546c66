// Package config loads the trustval application configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/trustval/policy"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/source/online"
	"github.com/georgepadayatti/trustval/token"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid configuration value")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: ErrConfigurationError}
}

func missingField(field string) *ConfigError {
	return &ConfigError{Field: field, Message: "required field is missing", Err: ErrMissingRequiredField}
}

func invalidValue(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: err.Error(), Err: ErrInvalidValue}
}

// TrustStoreConfig is a PKCS#12 file whose certificates are trust anchors.
type TrustStoreConfig struct {
	// File is the path to the PKCS#12 file.
	File string `yaml:"file" json:"file"`

	// Password is the PKCS#12 password.
	Password string `yaml:"password" json:"password,omitempty"`
}

// Validate validates the trust store configuration.
func (c *TrustStoreConfig) Validate() error {
	if c.File == "" {
		return missingField("trust-stores.file")
	}
	return nil
}

// ValidationConfig contains validation configuration.
type ValidationConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files (PEM or DER).
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// TrustStores contains PKCS#12 trust stores.
	TrustStores []*TrustStoreConfig `yaml:"trust-stores" json:"trust_stores,omitempty"`

	// OtherCerts contains paths to intermediate certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// CRLs and OCSPResponses contain paths to revocation data files.
	CRLs          []string `yaml:"crls" json:"crls,omitempty"`
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`

	// Policy is the path to the validation policy. Empty selects the built-in policy.
	Policy string `yaml:"policy" json:"policy,omitempty"`

	// Online enables fetching of issuers, CRLs and OCSP responses.
	Online bool `yaml:"online" json:"online"`

	// Concurrency bounds the concurrent certificate lookups.
	Concurrency int `yaml:"concurrency" json:"concurrency,omitempty"`

	// ValidationTime is an RFC 3339 time to validate at. Empty means now.
	ValidationTime string `yaml:"validation-time" json:"validation_time,omitempty"`
}

// SetDefaults sets default values for validation configuration.
func (c *ValidationConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	if len(c.TrustAnchors) == 0 && len(c.TrustStores) == 0 {
		return NewConfigError("trust-anchors", "at least one trust anchor file or trust store is required")
	}
	for _, store := range c.TrustStores {
		if err := store.Validate(); err != nil {
			return err
		}
	}
	if c.Concurrency < 1 {
		return invalidValue("concurrency", fmt.Errorf("must be positive, got %d", c.Concurrency))
	}
	if _, err := c.Time(); err != nil {
		return err
	}
	return nil
}

// Time returns the configured validation time, zero when unset.
func (c *ValidationConfig) Time() (time.Time, error) {
	if c.ValidationTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.ValidationTime)
	if err != nil {
		return time.Time{}, invalidValue("validation-time", err)
	}
	return t, nil
}

// LoadTrustAnchors loads the certificates of every trust anchor file and store.
func (c *ValidationConfig) LoadTrustAnchors() ([]*token.CertificateToken, error) {
	anchors, err := source.LoadCertificateFiles(c.TrustAnchors)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust anchors: %w", err)
	}
	for _, store := range c.TrustStores {
		certs, err := source.LoadPKCS12TrustStore(store.File, store.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust store %s: %w", store.File, err)
		}
		anchors = append(anchors, certs...)
	}
	return anchors, nil
}

// LoadOtherCerts loads the additional certificates from the configured files.
func (c *ValidationConfig) LoadOtherCerts() ([]*token.CertificateToken, error) {
	if len(c.OtherCerts) == 0 {
		return nil, nil
	}
	certs, err := source.LoadCertificateFiles(c.OtherCerts)
	if err != nil {
		return nil, fmt.Errorf("failed to load other certs: %w", err)
	}
	return certs, nil
}

// LoadPolicy loads the configured policy, or the built-in one.
func (c *ValidationConfig) LoadPolicy() (*policy.Policy, error) {
	if c.Policy == "" {
		return policy.Default(), nil
	}
	return policy.Load(c.Policy)
}

// FetchConfig configures access to online trust data providers.
type FetchConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// MaxAttempts is the number of attempts per request, including the first.
	MaxAttempts int `yaml:"max-attempts" json:"max_attempts,omitempty"`

	// CacheTTL is how long fetched CRLs and certificates are reused. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache-ttl" json:"cache_ttl,omitempty"`

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests-per-second" json:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst" json:"burst,omitempty"`

	// FailureThreshold opens the circuit breaker of a responder host after
	// that many consecutive failures. Zero disables the breakers.
	FailureThreshold int           `yaml:"failure-threshold" json:"failure_threshold,omitempty"`
	ResetTimeout     time.Duration `yaml:"reset-timeout" json:"reset_timeout,omitempty"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user-agent" json:"user_agent,omitempty"`
}

// SetDefaults sets default values for fetch configuration.
func (c *FetchConfig) SetDefaults() {
	defaults := online.DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if c.UserAgent == "" {
		c.UserAgent = defaults.UserAgent
	}
	if c.FailureThreshold > 0 && c.ResetTimeout == 0 {
		c.ResetTimeout = time.Minute
	}
}

// Validate validates the fetch configuration.
func (c *FetchConfig) Validate() error {
	if c.Timeout < 0 {
		return invalidValue("fetch.timeout", fmt.Errorf("must not be negative, got %s", c.Timeout))
	}
	if c.MaxAttempts < 1 {
		return invalidValue("fetch.max-attempts", fmt.Errorf("must be positive, got %d", c.MaxAttempts))
	}
	if c.RequestsPerSecond < 0 {
		return invalidValue("fetch.requests-per-second", fmt.Errorf("must not be negative, got %g", c.RequestsPerSecond))
	}
	return nil
}

// FetcherConfig converts c into an online fetcher configuration.
func (c *FetchConfig) FetcherConfig() *online.Config {
	cfg := online.DefaultConfig()
	cfg.Timeout = c.Timeout
	cfg.UserAgent = c.UserAgent
	cfg.UseCache = c.CacheTTL > 0
	cfg.CacheTTL = c.CacheTTL
	cfg.Retry.MaxAttempts = c.MaxAttempts
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Burst = c.Burst
	if c.FailureThreshold > 0 {
		cfg.Breakers = online.NewHostBreakers(nil, c.FailureThreshold, c.ResetTimeout)
	}
	return cfg
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Validation contains trust and policy settings.
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`

	// Fetch contains online provider settings.
	Fetch *FetchConfig `yaml:"fetch" json:"fetch,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// SetDefaults fills missing sections and values.
func (c *AppConfig) SetDefaults() {
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	if c.Fetch == nil {
		c.Fetch = &FetchConfig{}
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Validation.SetDefaults()
	c.Fetch.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate validates every section.
func (c *AppConfig) Validate() error {
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	return c.Fetch.Validate()
}

// Environment holds the settings that can be overridden from the environment.
// Unset variables leave the file configuration untouched.
type Environment struct {
	LogLevel       string        `env:"TRUSTVAL_LOG_LEVEL"`
	LogFormat      string        `env:"TRUSTVAL_LOG_FORMAT"`
	LogOutput      string        `env:"TRUSTVAL_LOG_OUTPUT"`
	Policy         string        `env:"TRUSTVAL_POLICY"`
	TrustAnchors   []string      `env:"TRUSTVAL_TRUST_ANCHORS,separator=|"`
	Online         string        `env:"TRUSTVAL_ONLINE"`
	Concurrency    int           `env:"TRUSTVAL_CONCURRENCY"`
	ValidationTime string        `env:"TRUSTVAL_VALIDATION_TIME"`
	FetchTimeout   time.Duration `env:"TRUSTVAL_FETCH_TIMEOUT"`
	CacheTTL       time.Duration `env:"TRUSTVAL_CACHE_TTL"`
}

// ApplyEnvironment overrides c with the TRUSTVAL_* variables of es.
func (c *AppConfig) ApplyEnvironment(es env.EnvSet) error {
	var e Environment
	if err := env.Unmarshal(es, &e); err != nil {
		return &ConfigError{Message: "invalid environment", Err: errors.Join(ErrInvalidValue, err)}
	}
	c.SetDefaults()

	setString(&c.Logging.Level, e.LogLevel)
	setString(&c.Logging.Format, e.LogFormat)
	setString(&c.Logging.Output, e.LogOutput)
	setString(&c.Validation.Policy, e.Policy)
	setString(&c.Validation.ValidationTime, e.ValidationTime)
	if len(e.TrustAnchors) > 0 {
		c.Validation.TrustAnchors = e.TrustAnchors
	}
	if e.Online != "" {
		enabled, err := strconv.ParseBool(e.Online)
		if err != nil {
			return invalidValue("TRUSTVAL_ONLINE", err)
		}
		c.Validation.Online = enabled
	}
	if e.Concurrency != 0 {
		c.Validation.Concurrency = e.Concurrency
	}
	if e.FetchTimeout != 0 {
		c.Fetch.Timeout = e.FetchTimeout
	}
	if e.CacheTTL != 0 {
		c.Fetch.CacheTTL = e.CacheTTL
	}
	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// ParseAppConfig parses configuration from YAML data and sets defaults.
// Unknown keys are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	return &config, nil
}

// ReadAppConfig loads the configuration file and applies the process
// environment without validating the result. An empty filename uses the
// environment alone.
func ReadAppConfig(filename string) (*AppConfig, error) {
	config := &AppConfig{}
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if config, err = ParseAppConfig(data); err != nil {
			return nil, err
		}
	}

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := config.ApplyEnvironment(es); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadAppConfig reads the configuration like ReadAppConfig and validates it.
func LoadAppConfig(filename string) (*AppConfig, error) {
	config, err := ReadAppConfig(filename)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
