// Package keystore holds the process-wide client certificate used for mutual TLS.
// The file is read and parsed once, on first use, and shared by every worker.
// A keystore that fails to load is reported once and requests go on without it.
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pkcs12"
)

var (
	// ErrNotConfigured is returned by Load when no keystore path is set
	ErrNotConfigured = errors.New("keystore is not configured")

	// ErrUnsupportedFormat is returned for keystore formats that cannot be read
	ErrUnsupportedFormat = errors.New("unsupported keystore format")

	// ErrAlreadyLoaded is returned by Configure once the keystore has been loaded
	ErrAlreadyLoaded = errors.New("keystore is already loaded")
)

// Settings locates and unlocks the keystore
type Settings struct {
	Path               string `yaml:"path" json:"path"`
	Password           string `yaml:"password" json:"password"`
	KeyManagerPassword string `yaml:"keyManagerPassword" json:"keyManagerPassword"`
}

var (
	mu        sync.Mutex
	current   Settings
	attempted atomic.Bool
	loaded    *tls.Certificate
	loadErr   error
	logger    = zerolog.Nop()
	readFile  = os.ReadFile
)

// SetLogger sets where a failed load is reported
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Configure sets the keystore location. Once a load has been attempted the
// keystore is frozen and different settings are rejected with ErrAlreadyLoaded.
func Configure(s Settings) error {
	mu.Lock()
	defer mu.Unlock()
	if s == current {
		return nil
	}
	if attempted.Load() {
		return ErrAlreadyLoaded
	}
	current = s
	return nil
}

// Configured reports whether a keystore path is set
func Configured() bool {
	mu.Lock()
	defer mu.Unlock()
	return current.Path != ""
}

// Load returns the client certificate. The keystore is read and parsed on
// the first call only; its certificate or its error is returned from then on.
func Load() (*tls.Certificate, error) {
	if attempted.Load() {
		return loaded, loadErr
	}

	mu.Lock()
	defer mu.Unlock()

	if attempted.Load() {
		return loaded, loadErr
	}
	if current.Path == "" {
		return nil, ErrNotConfigured
	}

	loaded, loadErr = read(current)
	if loadErr != nil {
		logger.Error().Err(loadErr).Str("path", current.Path).
			Msg("keystore could not be loaded, continuing without client certificate")
	}
	attempted.Store(true)
	return loaded, loadErr
}

// ClientCertificates returns the certificates to offer during TLS handshakes.
// It is empty when no keystore is configured or the keystore failed to load.
func ClientCertificates() []tls.Certificate {
	if !Configured() {
		return nil
	}
	cert, err := Load()
	if err != nil {
		return nil
	}
	return []tls.Certificate{*cert}
}

func read(s Settings) (*tls.Certificate, error) {
	ext := strings.ToLower(filepath.Ext(s.Path))
	if strings.HasSuffix(strings.ToLower(s.Path), "jks") {
		return nil, fmt.Errorf("%w: JKS keystores cannot be read, convert %s to PKCS#12 or PEM", ErrUnsupportedFormat, s.Path)
	}

	data, err := readFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	switch ext {
	case ".pem", ".crt", ".key":
		return parsePEM(data, s)
	default:
		return parsePKCS12(data, s)
	}
}

func parsePKCS12(data []byte, s Settings) (*tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, s.Password)
	if err != nil && s.KeyManagerPassword != "" && s.KeyManagerPassword != s.Password {
		blocks, err = pkcs12.ToPEM(data, s.KeyManagerPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 keystore: %w", err)
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "CERTIFICATE" {
			certPEM = append(certPEM, encoded...)
		} else {
			keyPEM = append(keyPEM, encoded...)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to build key pair from PKCS#12 keystore: %w", err)
	}
	return withLeaf(cert)
}

// parsePEM expects the certificate chain and the private key in one file.
// Legacy encrypted keys are unlocked with the key manager password.
func parsePEM(data []byte, s Settings) (*tls.Certificate, error) {
	var certPEM, keyPEM []byte

	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		if block.Type == "CERTIFICATE" {
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
			continue
		}

		if x509.IsEncryptedPEMBlock(block) {
			password := s.KeyManagerPassword
			if password == "" {
				password = s.Password
			}
			der, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: der}
		}
		keyPEM = append(keyPEM, pem.EncodeToMemory(block)...)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to build key pair from PEM keystore: %w", err)
	}
	return withLeaf(cert)
}

func withLeaf(cert tls.Certificate) (*tls.Certificate, error) {
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}
