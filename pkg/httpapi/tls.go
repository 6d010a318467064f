package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/caddyserver/certmagic"

	"github.com/beachsh/beach/pkg/applog"
)

// TLSConfig configures TLSServer.
type TLSConfig struct {
	Port         int
	Domain       string // non-empty selects certmagic/ACME
	SelfSigned   bool
	CertPath     string
	KeyPath      string
	AutoRedirect bool
}

// TLSServer wraps a Server with HTTPS, self-signed by default, or via
// certmagic when Domain is set, or via a custom cert/key pair.
type TLSServer struct {
	*Server
	tlsConfig *TLSConfig
}

// NewTLSServer wraps server with TLS support per cfg.
func NewTLSServer(server *Server, cfg *TLSConfig) *TLSServer {
	return &TLSServer{Server: server, tlsConfig: cfg}
}

// StartTLS serves HTTPS on httpsAddr, optionally redirecting plain
// HTTP from httpAddr when AutoRedirect is set.
func (s *TLSServer) StartTLS(httpAddr, httpsAddr string) error {
	tlsConfig, err := s.setupTLS()
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	httpsServer := &http.Server{
		Addr:         httpsAddr,
		Handler:      s.Handler(),
		TLSConfig:    tlsConfig,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	applog.Infof("starting HTTPS server on %s", httpsAddr)

	if s.tlsConfig.AutoRedirect && httpAddr != "" {
		go s.startHTTPRedirect(httpAddr)
	}

	if s.tlsConfig.SelfSigned || (s.tlsConfig.CertPath != "" && s.tlsConfig.KeyPath != "") {
		return httpsServer.ListenAndServeTLS(s.tlsConfig.CertPath, s.tlsConfig.KeyPath)
	}
	return httpsServer.ListenAndServeTLS("", "")
}

func (s *TLSServer) setupTLS() (*tls.Config, error) {
	if s.tlsConfig.CertPath != "" && s.tlsConfig.KeyPath != "" {
		return s.setupCustomCertTLS()
	}
	if s.tlsConfig.Domain != "" {
		return s.setupCertMagicTLS()
	}
	return s.setupSelfSignedTLS()
}

func (s *TLSServer) setupSelfSignedTLS() (*tls.Config, error) {
	cert, err := s.generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   "localhost",
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (s *TLSServer) setupCustomCertTLS() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.tlsConfig.CertPath, s.tlsConfig.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom certificates: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (s *TLSServer) setupCertMagicTLS() (*tls.Config, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = "admin@" + s.tlsConfig.Domain
	certmagic.Default.Storage = &certmagic.FileStorage{
		Path: filepath.Join("/tmp", "beach-certs"),
	}

	if err := certmagic.ManageSync(context.Background(), []string{s.tlsConfig.Domain}); err != nil {
		return nil, fmt.Errorf("failed to obtain certificate for domain %s: %w", s.tlsConfig.Domain, err)
	}

	tlsConfig, err := certmagic.TLS([]string{s.tlsConfig.Domain})
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return tlsConfig, nil
}

// generateSelfSignedCert mints a one-year localhost certificate, used
// when no domain or custom cert/key pair is configured.
func (s *TLSServer) generateSelfSignedCert() (tls.Certificate, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"beach"},
			Country:      []string{"US"},
			Locality:     []string{"localhost"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return tls.X509KeyPair(certPEM, keyPEM)
}

func (s *TLSServer) startHTTPRedirect(httpAddr string) {
	redirectHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = "localhost"
		}
		if i := lastColon(host); i >= 0 {
			host = host[:i]
		}
		if s.tlsConfig.Port != 443 {
			host = fmt.Sprintf("%s:%d", host, s.tlsConfig.Port)
		}
		http.Redirect(w, r, fmt.Sprintf("https://%s%s", host, r.RequestURI), http.StatusPermanentRedirect)
	})

	server := &http.Server{Addr: httpAddr, Handler: redirectHandler}
	applog.Infof("starting HTTP redirect server on %s -> HTTPS", httpAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		applog.Errorf("HTTP redirect server error: %v", err)
	}
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
