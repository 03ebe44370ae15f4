// FILE: srpauth/src/internal/config/config.go
package config

import "time"

// Config is the full srpauth configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Auth       AuthConfig       `toml:"auth"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Store      StoreConfig      `toml:"store"`
	Events     EventsConfig     `toml:"events"`
	TestServer TestServerConfig `toml:"testserver"`
	Logging    *LogConfig       `toml:"logging"`
}

// APIConfig selects the server and the transport backend.
type APIConfig struct {
	BaseURL    string `toml:"base_url"`
	AppVersion string `toml:"app_version"`
	UserAgent  string `toml:"user_agent"`

	// Backend: "sync" (fasthttp) or "async" (net/http)
	Backend   string `toml:"backend"`
	TimeoutMS int64  `toml:"timeout_ms"`

	// Proxy URL: http://, https:// or socks5://
	Proxy   string `toml:"proxy"`
	Cookies bool   `toml:"cookies"`

	TLS *TLSClientConfig `toml:"tls"`
}

type AuthConfig struct {
	Username string `toml:"username"`

	InfoRetries   int   `toml:"info_retries"`
	InfoBackoffMS int64 `toml:"info_backoff_ms"`
	MaxBackoffMS  int64 `toml:"max_backoff_ms"`

	// How long a pending second factor may be submitted
	SecondFactorWindowS int64 `toml:"second_factor_window_s"`
}

type DispatchConfig struct {
	// Responses matching any rule are surfaced as human verification
	HumanVerification []HVRuleConfig `toml:"human_verification"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
}

// HVRuleConfig matches a response by HTTP status and API code. Zero matches
// any value.
type HVRuleConfig struct {
	Status int `toml:"status"`
	Code   int `toml:"code"`
}

// RateLimitConfig bounds outgoing requests on the client side.
type RateLimitConfig struct {
	// Requests per second. 0 disables the limiter.
	Rate float64 `toml:"rate"`
	// Defaults to the rate, rounded up
	Burst int `toml:"burst"`
	// "wait" blocks until a token is available, "reject" fails fast
	Policy string `toml:"policy"`
}

// StoreConfig selects where refresh data is persisted.
type StoreConfig struct {
	// "none", "memory" or "redis"
	Type  string      `toml:"type"`
	Redis RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	// 0 keeps entries until logout
	TTLS int64 `toml:"ttl_s"`
}

type EventsConfig struct {
	Enabled     bool   `toml:"enabled"`
	TopicPrefix string `toml:"topic_prefix"`
}

// TestServerConfig configures the local protocol double started by
// `srpauth serve`.
type TestServerConfig struct {
	Addr       string `toml:"addr"`
	PathPrefix string `toml:"path_prefix"`
	Sequential bool   `toml:"sequential"`

	AccessTokenTTLS int64 `toml:"access_token_ttl_s"`
	ChallengeTTLS   int64 `toml:"challenge_ttl_s"`
	TwoFAWindowS    int64 `toml:"twofa_window_s"`
	MaxIdleS        int64 `toml:"max_idle_s"`

	InfoRate  float64 `toml:"info_rate"`
	InfoBurst int     `toml:"info_burst"`

	TLS   *TLSServerConfig `toml:"tls"`
	Users []TestUserConfig `toml:"users"`
}

type TestUserConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	// TOTP code accepted for the second factor, empty disables 2FA
	TOTP string `toml:"totp"`
	// "totp", "totp_or_fido2" or "fido2"
	SecondFactor string `toml:"second_factor"`
}

func defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://127.0.0.1:8089/api",
			Backend:   "sync",
			TimeoutMS: 30000,
			Cookies:   true,
		},
		Auth: AuthConfig{
			InfoRetries:         3,
			InfoBackoffMS:       200,
			MaxBackoffMS:        2000,
			SecondFactorWindowS: 300,
		},
		Dispatch: DispatchConfig{
			HumanVerification: []HVRuleConfig{
				{Status: 422, Code: 9001},
			},
			RateLimit: RateLimitConfig{
				Policy: "wait",
			},
		},
		Store: StoreConfig{
			Type: "none",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "srpauth:session:",
			},
		},
		Events: EventsConfig{
			TopicPrefix: "srpauth.",
		},
		TestServer: TestServerConfig{
			Addr:            "127.0.0.1:8089",
			PathPrefix:      "/api",
			AccessTokenTTLS: 3600,
			ChallengeTTLS:   60,
			TwoFAWindowS:    300,
			MaxIdleS:        1800,
			InfoRate:        50,
			InfoBurst:       100,
		},
		Logging: DefaultLogConfig(),
	}
}

// Defaults returns a fresh copy of the built-in configuration.
func Defaults() *Config {
	return defaults()
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

func (a AuthConfig) InfoBackoff() time.Duration {
	return time.Duration(a.InfoBackoffMS) * time.Millisecond
}

func (a AuthConfig) MaxBackoff() time.Duration {
	return time.Duration(a.MaxBackoffMS) * time.Millisecond
}

func (a AuthConfig) SecondFactorWindow() time.Duration {
	return time.Duration(a.SecondFactorWindowS) * time.Second
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLS) * time.Second
}

func seconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

func (ts TestServerConfig) AccessTokenTTL() time.Duration { return seconds(ts.AccessTokenTTLS) }
func (ts TestServerConfig) ChallengeTTL() time.Duration   { return seconds(ts.ChallengeTTLS) }
func (ts TestServerConfig) TwoFAWindow() time.Duration    { return seconds(ts.TwoFAWindowS) }
func (ts TestServerConfig) MaxIdle() time.Duration        { return seconds(ts.MaxIdleS) }
