package sinks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// OutputSink is the shape every terminal sink (Kafka, Elasticsearch,
// local file) implements. internal/app fans translated/enriched events
// out across whichever of these are enabled.
type OutputSink interface {
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, events []types.Event) error
	IsHealthy() bool
}

// SecretManager resolves sink credentials (SASL/basic-auth passwords)
// that the operator left out of the config file, so secrets never have
// to live in YAML on disk.
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// basicSecretManager reads secrets from environment variables.
type basicSecretManager struct{}

func (sm *basicSecretManager) GetSecret(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %s not found", key)
	}
	return value, nil
}

// NewBasicSecretManager creates the default environment-backed secret
// manager used by the Kafka and Elasticsearch sinks.
func NewBasicSecretManager() SecretManager {
	return &basicSecretManager{}
}

// TLSSettings is the primitive shape every sink's TLS config embeds, so
// createTLSConfig has no dependency on internal/config's sink structs.
type TLSSettings struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// createTLSConfig builds a *tls.Config from TLSSettings; called by sinks
// that dial a remote broker/cluster over TLS (Kafka, Elasticsearch).
func createTLSConfig(settings TLSSettings) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: settings.InsecureSkipVerify,
	}

	if settings.CertFile != "" && settings.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load cert/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if settings.CAFile != "" {
		caCert, err := os.ReadFile(settings.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}