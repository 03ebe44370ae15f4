// FILE: srpauth/src/internal/config/tls.go
package config

// TLSClientConfig customizes certificate checks against the API server.
type TLSClientConfig struct {
	Enabled bool `toml:"enabled"`

	// PEM bundle used instead of the system roots
	ServerCAFile string `toml:"server_ca_file"`
	ServerName   string `toml:"server_name"`

	// Client certificate for mTLS
	ClientCertFile string `toml:"client_cert_file"`
	ClientKeyFile  string `toml:"client_key_file"`

	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// "TLS1.2", "TLS1.3"
	MinVersion string `toml:"min_version"`
	MaxVersion string `toml:"max_version"`

	// Comma-separated cipher suite names
	CipherSuites string `toml:"cipher_suites"`
}

// TLSServerConfig serves the test server over HTTPS. With no cert/key files
// a self-signed certificate is generated at startup.
type TLSServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// Hosts put into a generated certificate
	Hosts string `toml:"hosts"`

	MinVersion   string `toml:"min_version"`
	MaxVersion   string `toml:"max_version"`
	CipherSuites string `toml:"cipher_suites"`
}
