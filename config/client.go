package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/world-in-progress/canopy/core/logger"
)

// ClientConfig is everything the dispatcher needs to talk to one Canvas instance.
type ClientConfig struct {
	Token     string
	Subdomain string
	BaseURL   string

	// Concurrency bounds the requests in flight; MaxQueue is the admission ceiling
	// above which new callers wait.
	Concurrency           int
	MaxQueue              int
	AdmissionPollInterval time.Duration

	MinSendInterval     time.Duration
	RateLimitBuffer     float64
	InitialRateLimit    float64
	CheckStatusInterval time.Duration
	StatusPath          string

	Timeout  time.Duration
	LogLevel string
}

// DefaultClientConfig mirrors the defaults registered with viper.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Subdomain:             "byui",
		Concurrency:           30,
		MaxQueue:              40,
		AdmissionPollInterval: 500 * time.Millisecond,
		MinSendInterval:       10 * time.Millisecond,
		InitialRateLimit:      700,
		CheckStatusInterval:   2 * time.Second,
		StatusPath:            "/api/v1/users/self",
		Timeout:               30 * time.Second,
		LogLevel:              "info",
	}
}

// LoadClientConfig reads the "canvas" section of the active viper config,
// falling back to defaults and CANVAS_* environment variables
// (canvas.max_queue is CANVAS_MAX_QUEUE).
func LoadClientConfig() (ClientConfig, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // enable overwrite envs

	defaults := DefaultClientConfig()
	viper.SetDefault("canvas.subdomain", defaults.Subdomain)
	viper.SetDefault("canvas.concurrency", defaults.Concurrency)
	viper.SetDefault("canvas.max_queue", defaults.MaxQueue)
	viper.SetDefault("canvas.admission_poll_interval", defaults.AdmissionPollInterval)
	viper.SetDefault("canvas.min_send_interval", defaults.MinSendInterval)
	viper.SetDefault("canvas.rate_limit_buffer", defaults.RateLimitBuffer)
	viper.SetDefault("canvas.initial_rate_limit", defaults.InitialRateLimit)
	viper.SetDefault("canvas.check_status_interval", defaults.CheckStatusInterval)
	viper.SetDefault("canvas.status_path", defaults.StatusPath)
	viper.SetDefault("canvas.timeout", defaults.Timeout)
	viper.SetDefault("canvas.log_level", defaults.LogLevel)
	// bound explicitly so CANVAS_API_TOKEN works without a config file
	_ = viper.BindEnv("canvas.token", "CANVAS_API_TOKEN", "CANVAS_TOKEN")
	_ = viper.BindEnv("canvas.base_url", "CANVAS_BASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		logger.Debug("no config file found, using defaults and environment: %v", err)
	}

	cfg := ClientConfig{
		Token:                 viper.GetString("canvas.token"),
		Subdomain:             viper.GetString("canvas.subdomain"),
		BaseURL:               viper.GetString("canvas.base_url"),
		Concurrency:           viper.GetInt("canvas.concurrency"),
		MaxQueue:              viper.GetInt("canvas.max_queue"),
		AdmissionPollInterval: viper.GetDuration("canvas.admission_poll_interval"),
		MinSendInterval:       viper.GetDuration("canvas.min_send_interval"),
		RateLimitBuffer:       viper.GetFloat64("canvas.rate_limit_buffer"),
		InitialRateLimit:      viper.GetFloat64("canvas.initial_rate_limit"),
		CheckStatusInterval:   viper.GetDuration("canvas.check_status_interval"),
		StatusPath:            viper.GetString("canvas.status_path"),
		Timeout:               viper.GetDuration("canvas.timeout"),
		LogLevel:              viper.GetString("canvas.log_level"),
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Validate reports every structural problem at once. A missing token is
// not one of them: it only fails the first request.
func (c *ClientConfig) Validate() error {
	var result *multierror.Error

	if c.BaseURL == "" && c.Subdomain == "" {
		result = multierror.Append(result, fmt.Errorf("either base_url or subdomain is required"))
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid base_url: %w", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			result = multierror.Append(result, fmt.Errorf("base_url must use http or https scheme, got: %q", u.Scheme))
		}
	}
	if c.Concurrency <= 0 {
		result = multierror.Append(result, fmt.Errorf("concurrency must be positive, got: %d", c.Concurrency))
	}
	if c.MaxQueue < 0 {
		result = multierror.Append(result, fmt.Errorf("max_queue must be non-negative, got: %d", c.MaxQueue))
	}
	if c.MinSendInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("min_send_interval must be non-negative, got: %v", c.MinSendInterval))
	}
	if c.RateLimitBuffer < 0 {
		result = multierror.Append(result, fmt.Errorf("rate_limit_buffer must be non-negative, got: %v", c.RateLimitBuffer))
	}
	if c.RateLimitBuffer > 0 && c.CheckStatusInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("check_status_interval must be positive when rate_limit_buffer is set"))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must be non-negative, got: %v", c.Timeout))
	}

	return result.ErrorOrNil()
}

// Root returns the site root every API path is resolved against.
func (c *ClientConfig) Root() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.instructure.com", c.Subdomain)
}
