package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrUpstreamConfigMissing is fatal: the sync process refuses to start without it.
var ErrUpstreamConfigMissing = errors.New("upstream configuration missing")

const (
	defaultTokenHeader = "AuthenticationToken"
	defaultPageSize    = 1000
	defaultMaxPages    = 100
)

// UpstreamConfig is read once at process start and passed to the upstream client.
type UpstreamConfig struct {
	BaseURL         string
	Token           string
	TokenHeader     string
	PageSize        int
	MaxPages        int
	Paginate        bool
	Timeout         time.Duration
	RateLimitPerMin int
}

// LoadUpstreamConfig reads the ERP_API_* environment.
//
// Required:
// - ERP_API_BASE_URL
// - ERP_API_TOKEN
func LoadUpstreamConfig() (UpstreamConfig, error) {
	cfg := UpstreamConfig{
		BaseURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("ERP_API_BASE_URL")), "/"),
		Token:           strings.TrimSpace(os.Getenv("ERP_API_TOKEN")),
		TokenHeader:     stringFromEnv("ERP_API_TOKEN_HEADER", defaultTokenHeader),
		PageSize:        intFromEnv("ERP_API_PAGE_SIZE", defaultPageSize),
		MaxPages:        intFromEnv("ERP_API_MAX_PAGES", defaultMaxPages),
		Paginate:        SyncPaginationEnabled(),
		Timeout:         time.Duration(intFromEnv("ERP_API_TIMEOUT_SECONDS", 60)) * time.Second,
		RateLimitPerMin: intFromEnv("ERP_API_RATE_LIMIT_PER_MIN", 0),
	}
	return cfg, cfg.Validate()
}

func (c UpstreamConfig) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "ERP_API_BASE_URL")
	}
	if c.Token == "" {
		missing = append(missing, "ERP_API_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUpstreamConfigMissing, strings.Join(missing, ", "))
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: ERP_API_BASE_URL %q is not an absolute url", ErrUpstreamConfigMissing, c.BaseURL)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("ERP_API_PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	return nil
}
