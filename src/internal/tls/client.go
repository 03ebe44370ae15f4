// FILE: srpauth/src/internal/tls/client.go
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"srpauth/src/internal/config"

	"github.com/lixenwraith/log"
)

// ClientManager builds the TLS configuration used by the API transport.
type ClientManager struct {
	config    *config.TLSClientConfig
	tlsConfig *tls.Config
	logger    *log.Logger
}

// NewClientManager returns nil when TLS customization is disabled, in which
// case the transport keeps Go's defaults. A server CA file replaces the
// system roots rather than adding to them.
func NewClientManager(cfg *config.TLSClientConfig, logger *log.Logger) (*ClientManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion, tls.VersionTLS12),
		MaxVersion:         parseTLSVersion(cfg.MaxVersion, tls.VersionTLS13),
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CipherSuites != "" {
		tlsConfig.CipherSuites = parseCipherSuites(cfg.CipherSuites)
	}

	cert, err := loadClientCertificate(cfg.ClientCertFile, cfg.ClientKeyFile)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}

	if tlsConfig.RootCAs, err = loadRootCAs(cfg.ServerCAFile); err != nil {
		return nil, err
	}

	if cfg.InsecureSkipVerify {
		logger.Warn("msg", "Server certificate verification disabled",
			"component", "tls",
			"server_name", cfg.ServerName)
	}
	logger.Debug("msg", "API client TLS configured",
		"component", "tls",
		"server_ca", cfg.ServerCAFile,
		"client_cert", cert != nil,
		"min_version", tlsVersionString(tlsConfig.MinVersion))

	return &ClientManager{
		config:    cfg,
		tlsConfig: tlsConfig,
		logger:    logger,
	}, nil
}

// loadClientCertificate returns nil when neither file is set.
func loadClientCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	switch {
	case certFile == "" && keyFile == "":
		return nil, nil
	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("both client_cert_file and client_key_file must be provided for mTLS")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	return &cert, nil
}

// loadRootCAs returns nil (system roots) when caFile is empty.
func loadRootCAs(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read server CA file: %w", err)
	}
	return certPool(pemData)
}

// TrustPEM returns a client config that trusts only the given PEM
// certificates, for talking to a test server with a generated certificate.
func TrustPEM(certPEM []byte) (*tls.Config, error) {
	pool, err := certPool(certPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func certPool(pemData []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}

// GetConfig returns a copy so transports cannot alter the shared config.
func (m *ClientManager) GetConfig() *tls.Config {
	if m == nil {
		return nil
	}
	return m.tlsConfig.Clone()
}

func (m *ClientManager) GetStats() map[string]any {
	if m == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"enabled":              true,
		"server_name":          m.tlsConfig.ServerName,
		"min_version":          tlsVersionString(m.tlsConfig.MinVersion),
		"max_version":          tlsVersionString(m.tlsConfig.MaxVersion),
		"has_client_cert":      len(m.tlsConfig.Certificates) > 0,
		"has_server_ca":        m.tlsConfig.RootCAs != nil,
		"insecure_skip_verify": m.tlsConfig.InsecureSkipVerify,
	}
}
