// FILE: srpauth/src/internal/config/validation.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	lconfig "github.com/lixenwraith/config"
)

// validateConfig is the centralized validator for the entire configuration
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateAPI(&cfg.API); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := validateDispatch(&cfg.Dispatch); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := validateTestServer(&cfg.TestServer); err != nil {
		return fmt.Errorf("testserver: %w", err)
	}
	if cfg.Logging != nil {
		if err := validateLogConfig(cfg.Logging); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}

	return nil
}

// Validate checks a configuration assembled outside Load.
func (c *Config) Validate() error {
	return validateConfig(c)
}

func validateAPI(a *APIConfig) error {
	if err := lconfig.NonEmpty(a.BaseURL); err != nil {
		return fmt.Errorf("missing base_url")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https: %s", a.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url has no host: %s", a.BaseURL)
	}

	switch a.Backend {
	case "sync", "async":
	default:
		return fmt.Errorf("invalid backend '%s' (must be 'sync' or 'async')", a.Backend)
	}

	if a.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive: %d", a.TimeoutMS)
	}

	if a.Proxy != "" {
		p, err := url.Parse(a.Proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy: %w", err)
		}
		switch p.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("unsupported proxy scheme: %s", p.Scheme)
		}
	}

	if a.TLS != nil && a.TLS.Enabled {
		if err := validateTLSClient(a.TLS); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if a.InfoRetries < 0 {
		return fmt.Errorf("info_retries cannot be negative: %d", a.InfoRetries)
	}
	if a.InfoBackoffMS < 0 || a.MaxBackoffMS < 0 {
		return fmt.Errorf("backoff cannot be negative")
	}
	if a.MaxBackoffMS > 0 && a.InfoBackoffMS > a.MaxBackoffMS {
		return fmt.Errorf("info_backoff_ms (%d) exceeds max_backoff_ms (%d)", a.InfoBackoffMS, a.MaxBackoffMS)
	}
	if a.SecondFactorWindowS <= 0 {
		return fmt.Errorf("second_factor_window_s must be positive: %d", a.SecondFactorWindowS)
	}
	return nil
}

func validateDispatch(d *DispatchConfig) error {
	for i, r := range d.HumanVerification {
		if r.Status == 0 && r.Code == 0 {
			return fmt.Errorf("human_verification[%d]: rule matches every error", i)
		}
		if r.Status != 0 && (r.Status < 400 || r.Status > 599) {
			return fmt.Errorf("human_verification[%d]: status %d is not an error status", i, r.Status)
		}
	}
	return validateRateLimit(&d.RateLimit)
}

func validateRateLimit(cfg *RateLimitConfig) error {
	if cfg.Rate < 0 {
		return fmt.Errorf("rate limit rate cannot be negative")
	}
	if cfg.Burst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}

	switch strings.ToLower(cfg.Policy) {
	case "", "wait", "reject":
	default:
		return fmt.Errorf("invalid rate limit policy '%s' (must be 'wait' or 'reject')", cfg.Policy)
	}
	return nil
}

func validateStore(s *StoreConfig) error {
	switch s.Type {
	case "", "none", "memory":
	case "redis":
		if err := lconfig.NonEmpty(s.Redis.Addr); err != nil {
			return fmt.Errorf("redis store requires 'addr'")
		}
		if _, _, err := net.SplitHostPort(s.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis addr '%s': %w", s.Redis.Addr, err)
		}
		if s.Redis.DB < 0 {
			return fmt.Errorf("redis db cannot be negative: %d", s.Redis.DB)
		}
		if s.Redis.TTLS < 0 {
			return fmt.Errorf("redis ttl_s cannot be negative: %d", s.Redis.TTLS)
		}
	default:
		return fmt.Errorf("invalid store type '%s' (must be 'none', 'memory' or 'redis')", s.Type)
	}
	return nil
}

func validateTestServer(ts *TestServerConfig) error {
	if _, _, err := net.SplitHostPort(ts.Addr); err != nil {
		return fmt.Errorf("invalid addr '%s': %w", ts.Addr, err)
	}
	if ts.PathPrefix != "" && !strings.HasPrefix(ts.PathPrefix, "/") {
		return fmt.Errorf("path_prefix must start with '/': %s", ts.PathPrefix)
	}
	if ts.AccessTokenTTLS <= 0 || ts.ChallengeTTLS <= 0 || ts.TwoFAWindowS <= 0 {
		return fmt.Errorf("token, challenge and 2FA lifetimes must be positive")
	}
	if ts.InfoRate < 0 || ts.InfoBurst < 0 {
		return fmt.Errorf("info rate limit cannot be negative")
	}

	names := make(map[string]bool)
	for i, u := range ts.Users {
		if err := lconfig.NonEmpty(u.Username); err != nil {
			return fmt.Errorf("users[%d]: missing username", i)
		}
		key := strings.ToLower(u.Username)
		if names[key] {
			return fmt.Errorf("users[%d]: duplicate username '%s'", i, u.Username)
		}
		names[key] = true

		if u.Password == "" {
			return fmt.Errorf("user '%s': missing password", u.Username)
		}
		switch u.SecondFactor {
		case "":
			if u.TOTP != "" {
				return fmt.Errorf("user '%s': totp set without second_factor", u.Username)
			}
		case "totp", "totp_or_fido2":
			if u.TOTP == "" {
				return fmt.Errorf("user '%s': second_factor '%s' requires totp", u.Username, u.SecondFactor)
			}
		case "fido2":
		default:
			return fmt.Errorf("user '%s': invalid second_factor '%s'", u.Username, u.SecondFactor)
		}
	}

	if ts.TLS != nil && ts.TLS.Enabled {
		if (ts.TLS.CertFile == "") != (ts.TLS.KeyFile == "") {
			return fmt.Errorf("tls: cert_file and key_file must be set together")
		}
		for _, f := range []string{ts.TLS.CertFile, ts.TLS.KeyFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("tls: file is not accessible: %w", err)
			}
		}
		if err := validateTLSVersions(ts.TLS.MinVersion, ts.TLS.MaxVersion); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	return nil
}

func validateTLSClient(t *TLSClientConfig) error {
	if (t.ClientCertFile == "") != (t.ClientKeyFile == "") {
		return fmt.Errorf("client_cert_file and client_key_file must be set together")
	}
	for _, f := range []string{t.ServerCAFile, t.ClientCertFile, t.ClientKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("file is not accessible: %w", err)
		}
	}
	return validateTLSVersions(t.MinVersion, t.MaxVersion)
}

func validateTLSVersions(minVer, maxVer string) error {
	validVersions := map[string]bool{"TLS1.0": true, "TLS1.1": true, "TLS1.2": true, "TLS1.3": true}
	if minVer != "" && !validVersions[minVer] {
		return fmt.Errorf("invalid min TLS version: %s", minVer)
	}
	if maxVer != "" && !validVersions[maxVer] {
		return fmt.Errorf("invalid max TLS version: %s", maxVer)
	}
	return nil
}

func validateLogConfig(cfg *LogConfig) error {
	validOutputs := map[string]bool{
		"file": true, "stdout": true, "stderr": true,
		"both": true, "none": true,
	}
	if !validOutputs[cfg.Output] {
		return fmt.Errorf("invalid log output mode: %s", cfg.Output)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	if cfg.Console != nil {
		validTargets := map[string]bool{
			"stdout": true, "stderr": true, "split": true,
		}
		if !validTargets[cfg.Console.Target] {
			return fmt.Errorf("invalid console target: %s", cfg.Console.Target)
		}

		validFormats := map[string]bool{
			"txt": true, "json": true, "": true,
		}
		if !validFormats[cfg.Console.Format] {
			return fmt.Errorf("invalid console format: %s", cfg.Console.Format)
		}
	}

	return nil
}
