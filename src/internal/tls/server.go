// FILE: srpauth/src/internal/tls/server.go
package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"srpauth/src/internal/config"

	"github.com/lixenwraith/log"
)

// ServerManager builds the TLS configuration of the test server.
type ServerManager struct {
	config    *config.TLSServerConfig
	tlsConfig *tls.Config
	certPEM   []byte
	logger    *log.Logger
}

// NewServerManager loads the configured key pair, or generates a
// self-signed one for cfg.Hosts when no files are given. It returns nil when
// TLS is disabled.
func NewServerManager(cfg *config.TLSServerConfig, logger *log.Logger) (*ServerManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	m := &ServerManager{
		config: cfg,
		logger: logger,
	}

	var cert tls.Certificate
	var err error
	if cfg.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server cert/key: %w", err)
		}
	} else {
		hosts := cfg.Hosts
		if strings.TrimSpace(hosts) == "" {
			hosts = "localhost,127.0.0.1"
		}
		pair, err := GenerateSelfSigned(CertRequest{
			CommonName: "srpauth test server",
			Hosts:      hosts,
			ValidFor:   24 * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		cert, err = tls.X509KeyPair(pair.CertPEM, pair.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load generated cert/key: %w", err)
		}
		m.certPEM = pair.CertPEM
		logger.Info("msg", "Generated self-signed certificate",
			"component", "tls",
			"hosts", hosts)
	}

	m.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion, tls.VersionTLS12),
		MaxVersion:   parseTLSVersion(cfg.MaxVersion, tls.VersionTLS13),
	}
	if cfg.CipherSuites != "" {
		m.tlsConfig.CipherSuites = parseCipherSuites(cfg.CipherSuites)
	}

	return m, nil
}

// GetHTTPConfig returns a copy suitable for an HTTP/1.1 listener.
func (m *ServerManager) GetHTTPConfig() *tls.Config {
	if m == nil {
		return nil
	}
	cfg := m.tlsConfig.Clone()
	cfg.NextProtos = []string{"http/1.1"}
	return cfg
}

// GeneratedCertPEM is the self-signed certificate clients must trust, or nil
// when the certificate came from files.
func (m *ServerManager) GeneratedCertPEM() []byte {
	if m == nil {
		return nil
	}
	return m.certPEM
}

func (m *ServerManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":     true,
		"min_version": tlsVersionString(m.tlsConfig.MinVersion),
		"max_version": tlsVersionString(m.tlsConfig.MaxVersion),
		"self_signed": m.certPEM != nil,
	}
}
