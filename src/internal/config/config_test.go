// FILE: srpauth/src/internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sync", cfg.API.Backend)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Auth.SecondFactorWindow())
	assert.Equal(t, []HVRuleConfig{{Status: 422, Code: 9001}}, cfg.Dispatch.HumanVerification)
	assert.Equal(t, "none", cfg.Store.Type)
	assert.Equal(t, time.Hour, cfg.TestServer.AccessTokenTTL())

	// Each call returns an independent copy
	cfg.API.Backend = "async"
	assert.Equal(t, "sync", Defaults().API.Backend)
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"NilLogging", func(c *Config) { c.Logging = nil }, ""},
		{"EmptyBaseURL", func(c *Config) { c.API.BaseURL = "" }, "missing base_url"},
		{"BadScheme", func(c *Config) { c.API.BaseURL = "ftp://example.com" }, "scheme"},
		{"NoHost", func(c *Config) { c.API.BaseURL = "https://" }, "no host"},
		{"BadBackend", func(c *Config) { c.API.Backend = "grpc" }, "invalid backend"},
		{"ZeroTimeout", func(c *Config) { c.API.TimeoutMS = 0 }, "timeout_ms"},
		{"Socks5Proxy", func(c *Config) { c.API.Proxy = "socks5://127.0.0.1:1080" }, ""},
		{"BadProxy", func(c *Config) { c.API.Proxy = "ftp://proxy" }, "proxy scheme"},
		{"MissingCAFile", func(c *Config) {
			c.API.TLS = &TLSClientConfig{Enabled: true, ServerCAFile: "/nonexistent/ca.pem"}
		}, "not accessible"},
		{"HalfClientCert", func(c *Config) {
			c.API.TLS = &TLSClientConfig{Enabled: true, ClientCertFile: "c.pem"}
		}, "set together"},
		{"DisabledTLSIgnored", func(c *Config) {
			c.API.TLS = &TLSClientConfig{ServerCAFile: "/nonexistent/ca.pem"}
		}, ""},
		{"BadTLSVersion", func(c *Config) {
			c.API.TLS = &TLSClientConfig{Enabled: true, MinVersion: "SSL3"}
		}, "min TLS version"},
		{"NegativeRetries", func(c *Config) { c.Auth.InfoRetries = -1 }, "info_retries"},
		{"BackoffAboveMax", func(c *Config) { c.Auth.InfoBackoffMS = 5000 }, "exceeds"},
		{"ZeroWindow", func(c *Config) { c.Auth.SecondFactorWindowS = 0 }, "second_factor_window_s"},
		{"CatchAllHVRule", func(c *Config) {
			c.Dispatch.HumanVerification = append(c.Dispatch.HumanVerification, HVRuleConfig{})
		}, "matches every error"},
		{"HVRuleSuccessStatus", func(c *Config) {
			c.Dispatch.HumanVerification = []HVRuleConfig{{Status: 200}}
		}, "not an error status"},
		{"CodeOnlyHVRule", func(c *Config) {
			c.Dispatch.HumanVerification = []HVRuleConfig{{Code: 12087}}
		}, ""},
		{"NegativeRate", func(c *Config) { c.Dispatch.RateLimit.Rate = -1 }, "rate"},
		{"BadPolicy", func(c *Config) { c.Dispatch.RateLimit.Policy = "drop" }, "policy"},
		{"RedisStore", func(c *Config) { c.Store.Type = "redis" }, ""},
		{"RedisBadAddr", func(c *Config) {
			c.Store.Type = "redis"
			c.Store.Redis.Addr = "localhost"
		}, "redis addr"},
		{"UnknownStore", func(c *Config) { c.Store.Type = "etcd" }, "invalid store type"},
		{"TestServerBadAddr", func(c *Config) { c.TestServer.Addr = "8089" }, "invalid addr"},
		{"TestServerPrefix", func(c *Config) { c.TestServer.PathPrefix = "api" }, "path_prefix"},
		{"DuplicateUser", func(c *Config) {
			c.TestServer.Users = []TestUserConfig{
				{Username: "alice", Password: "a"},
				{Username: "Alice", Password: "b"},
			}
		}, "duplicate"},
		{"TOTPWithoutCode", func(c *Config) {
			c.TestServer.Users = []TestUserConfig{{Username: "bob", Password: "b", SecondFactor: "totp"}}
		}, "requires totp"},
		{"FIDO2User", func(c *Config) {
			c.TestServer.Users = []TestUserConfig{{Username: "bob", Password: "b", SecondFactor: "fido2"}}
		}, ""},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"BadLogOutput", func(c *Config) { c.Logging.Output = "syslog" }, "invalid log output"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Run("AbsoluteFile", func(t *testing.T) {
		t.Setenv("SRPAUTH_CONFIG_FILE", "/etc/srpauth/custom.toml")
		t.Setenv("SRPAUTH_CONFIG_DIR", "/ignored")
		assert.Equal(t, "/etc/srpauth/custom.toml", GetConfigPath())
	})

	t.Run("RelativeFileInDir", func(t *testing.T) {
		t.Setenv("SRPAUTH_CONFIG_FILE", "custom.toml")
		t.Setenv("SRPAUTH_CONFIG_DIR", "/opt/srpauth")
		assert.Equal(t, filepath.Join("/opt/srpauth", "custom.toml"), GetConfigPath())
	})

	t.Run("DirOnly", func(t *testing.T) {
		t.Setenv("SRPAUTH_CONFIG_FILE", "")
		t.Setenv("SRPAUTH_CONFIG_DIR", "/opt/srpauth")
		assert.Equal(t, filepath.Join("/opt/srpauth", "srpauth.toml"), GetConfigPath())
	})
}

func TestCustomEnvTransform(t *testing.T) {
	assert.Equal(t, "SRPAUTH_API_BASE_URL", customEnvTransform("api.base_url"))
	assert.Equal(t, "SRPAUTH_DISPATCH_RATE_LIMIT_RATE", customEnvTransform("dispatch.rate_limit.rate"))
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "srpauth.toml")
	content := `
[api]
base_url = "http://127.0.0.1:9999/api"
backend = "async"
timeout_ms = 5000

[store]
type = "memory"

[logging]
output = "none"
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("SRPAUTH_CONFIG_FILE", path)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/api", cfg.API.BaseURL)
	assert.Equal(t, "async", cfg.API.Backend)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout())
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Auth.InfoRetries)
	assert.Equal(t, "127.0.0.1:8089", cfg.TestServer.Addr)
}

func TestDefaults_BaseURLMatchesTestServer(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "http://"+cfg.TestServer.Addr+cfg.TestServer.PathPrefix, cfg.API.BaseURL)
}

func TestSaveToFile(t *testing.T) {
	t.Run("RefusesInvalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "srpauth.toml")
		cfg := Defaults()
		cfg.API.BaseURL = "ftp://example.com"

		err := cfg.SaveToFile(path)
		require.ErrorContains(t, err, "refusing to save")
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "nothing written")
	})

	t.Run("EmptyPath", func(t *testing.T) {
		assert.Error(t, Defaults().SaveToFile(""))
	})

	t.Run("CreatesDirectoryOwnerOnly", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "srpauth.toml")
		cfg := Defaults()
		cfg.Logging = nil

		require.NoError(t, cfg.SaveToFile(path))
		assert.NotNil(t, cfg.Logging)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "base_url")
	})
}
