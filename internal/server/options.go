package server

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kickstart/internal/failure"
)

// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
const DefaultReadHeaderTimeout = 10 * time.Second

// Options are the server options a plugin may export with -o. Durations
// are in milliseconds. Unknown keys are ignored.
type Options struct {
	BodyLimit        int64         `json:"bodyLimit"`
	RequestTimeout   int64         `json:"requestTimeout"`
	KeepAliveTimeout int64         `json:"keepAliveTimeout"`
	TrustProxy       bool          `json:"trustProxy"`
	HTTPS            *HTTPSOptions `json:"https"`
}

// HTTPSOptions name a certificate and key, each either a file path or an
// inline PEM block.
type HTTPSOptions struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// ParseOptions decodes the options object exported by a plugin.
func ParseOptions(raw map[string]interface{}) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return opts, failure.Invalid("invalid custom options: %v", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, failure.Invalid("invalid custom options: %v", err)
	}
	if opts.BodyLimit < 0 {
		return opts, failure.Invalid("invalid custom options: bodyLimit must not be negative")
	}
	if opts.HTTPS != nil && (opts.HTTPS.Cert == "" || opts.HTTPS.Key == "") {
		return opts, failure.Invalid("invalid custom options: https needs both cert and key")
	}
	return opts, nil
}

// TLSConfig loads the key pair. Relative file paths are resolved against baseDir.
func (h *HTTPSOptions) TLSConfig(baseDir string) (*tls.Config, error) {
	certPEM, err := readPEM(h.Cert, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := readPEM(h.Key, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func readPEM(value, baseDir string) ([]byte, error) {
	if strings.Contains(value, "-----BEGIN") {
		return []byte(value), nil
	}
	if !filepath.IsAbs(value) {
		value = filepath.Join(baseDir, value)
	}
	// #nosec G304 -- the path comes from the plugin's own options
	return os.ReadFile(value)
}

func millis(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}
