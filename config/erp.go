package config

import (
	"os"
	"strings"
	"time"
)

// ERPConfig carries the external ERP endpoint and credentials. The ERP is
// the system of record for employee/department/payroll master data.
type ERPConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	APIKey       string

	// Token calls are quick metadata calls; bulk fetches get a longer budget.
	TokenTimeout time.Duration
	FetchTimeout time.Duration

	// Access tokens live 3600s on the ERP side; cache slightly shorter so a
	// cached token is never presented right at its expiry.
	TokenCacheTTL time.Duration
}

func GetERPConfig() ERPConfig {
	cfg := ERPConfig{
		BaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("ERP_BASE_URL")), "/"),
		ClientID:      strings.TrimSpace(os.Getenv("ERP_CLIENT_ID")),
		ClientSecret:  strings.TrimSpace(os.Getenv("ERP_CLIENT_SECRET")),
		APIKey:        strings.TrimSpace(os.Getenv("ERP_API_KEY")),
		TokenTimeout:  10 * time.Second,
		FetchTimeout:  30 * time.Second,
		TokenCacheTTL: 3500 * time.Second,
	}
	if n := intFromEnv("ERP_TOKEN_TIMEOUT_SECONDS", 0); n > 0 {
		cfg.TokenTimeout = time.Duration(n) * time.Second
	}
	if n := intFromEnv("ERP_FETCH_TIMEOUT_SECONDS", 0); n > 0 {
		cfg.FetchTimeout = time.Duration(n) * time.Second
	}
	if n := intFromEnv("ERP_TOKEN_CACHE_TTL_SECONDS", 0); n > 0 {
		cfg.TokenCacheTTL = time.Duration(n) * time.Second
	}
	return cfg
}
