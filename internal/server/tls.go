package server

import (
	"crypto/tls"
	"fmt"
)

// NewTLSConfig loads a certificate/key pair for the https and wss
// paths. Self-signed pairs work fine for LAN deployments; clients just
// have to trust them.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
