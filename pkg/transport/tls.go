package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// TLSFiles holds the file-based TLS parameters of an endpoint.
type TLSFiles struct {
	// CertFile and KeyFile are this endpoint's PEM certificate and key.
	// Required for servers, optional for clients (mutual TLS).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile is the PEM bundle used to verify the peer. For servers it
	// turns on client certificate verification.
	CAFile string `yaml:"ca_file"`

	// CheckHostname verifies the server certificate against ServerName.
	// When false the chain is still verified against CAFile (or the
	// system roots) but the name is not.
	CheckHostname bool `yaml:"check_hostname"`

	// ServerName overrides the name sent in SNI and checked against the
	// certificate. Defaults to the dialed host.
	ServerName string `yaml:"server_name"`
}

// Enabled reports whether any TLS material is configured.
func (f *TLSFiles) Enabled() bool {
	return f != nil && (f.CertFile != "" || f.KeyFile != "" || f.CAFile != "")
}

// NewServerTLSConfig builds a server TLS configuration from files.
func NewServerTLSConfig(files *TLSFiles) (*tls.Config, error) {
	if files == nil || files.CertFile == "" || files.KeyFile == "" {
		return nil, errs.Configurationf("tls: server certificate and key are required")
	}

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, errs.Configuration("tls: load server key pair", err)
	}

	tlsConfig := &tls.Config{
		MinVersion:             tls.VersionTLS12,
		Certificates:           []tls.Certificate{cert},
		ClientAuth:             tls.NoClientCert,
		SessionTicketsDisabled: true,
	}

	if files.CAFile != "" {
		pool, err := LoadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// NewClientTLSConfig builds a client TLS configuration from files.
//
// With CheckHostname off, Go's built-in verification (which always checks
// the name) is replaced by a callback that verifies only the chain.
func NewClientTLSConfig(files *TLSFiles) (*tls.Config, error) {
	if files == nil {
		return nil, errs.Configurationf("tls: configuration is required")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: files.ServerName,
	}

	if files.CertFile != "" || files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, errs.Configuration("tls: load client key pair", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	var roots *x509.CertPool
	if files.CAFile != "" {
		pool, err := LoadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		roots = pool
		tlsConfig.RootCAs = pool
	}

	if !files.CheckHostname {
		tlsConfig.InsecureSkipVerify = true // chain verified in verifyChain
		tlsConfig.VerifyPeerCertificate = verifyChain(roots)
	}

	return tlsConfig, nil
}

// LoadCertPool reads a PEM bundle into a certificate pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("tls: read CA file", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errs.Configurationf("tls: no certificates found in %s", path)
	}
	return pool, nil
}

// verifyChain returns a VerifyPeerCertificate callback that checks the
// presented chain against roots (nil means the system pool) without
// checking the host name.
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no certificates presented")
		}

		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}

		intermediates := x509.NewCertPool()
		for _, rawCert := range rawCerts[1:] {
			intermediateCert, err := x509.ParseCertificate(rawCert)
			if err != nil {
				continue
			}
			intermediates.AddCert(intermediateCert)
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			CurrentTime:   time.Now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		if _, err := cert.Verify(opts); err != nil {
			return fmt.Errorf("certificate chain verification failed: %w", err)
		}
		return nil
	}
}
