package hec

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/hecforward/internal/model"
)

// CollectorPath is the HEC endpoint that accepts JSON event envelopes.
const CollectorPath = "/services/collector/event"

// Config holds the connection parameters of a Forwarder.
// The zero value of every optional field selects its default.
type Config struct {
	// Token is sent as "Authorization: Splunk <token>". Required.
	Token string
	// Host is the collector host name or address. Required.
	Host string
	// Port defaults to 8088.
	Port int
	// HostIdentity is stamped on envelopes that carry no host.
	// Defaults to the local hostname.
	HostIdentity string
	// DisableTLS switches the endpoint scheme to plain http.
	DisableTLS bool
	// InsecureSkipVerify turns off certificate verification. Only meant for
	// test collectors with self-signed certificates. Ignored when HTTPClient is set.
	InsecureSkipVerify bool
	// MaxBatchBytes bounds the cumulative serialized size of one batch.
	// Defaults to 100000.
	MaxBatchBytes int
	// Timeout bounds each delivery request. Defaults to 30s.
	Timeout time.Duration
	// Channel is sent as X-Splunk-Request-Channel. A random id is used when empty.
	Channel string
	// HTTPClient overrides the client built from the fields above.
	HTTPClient *http.Client
}

func (c Config) withDefaults() (Config, error) {
	if strings.TrimSpace(c.Token) == "" {
		return c, errors.New("hec: token is required")
	}
	if strings.TrimSpace(c.Host) == "" {
		return c, errors.New("hec: collector host is required")
	}
	if c.Port == 0 {
		c.Port = model.DefaultCollectorPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return c, fmt.Errorf("hec: invalid port: %d", c.Port)
	}
	if c.HostIdentity == "" {
		c.HostIdentity = localHostname()
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = model.DefaultMaxBatchBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = model.DefaultDeliveryTimeout
	}
	if c.Channel == "" {
		c.Channel = uuid.NewString()
	}
	return c, nil
}

// Endpoint returns the collector URL derived from the config.
func (c Config) Endpoint() string {
	scheme := "https"
	if c.DisableTLS {
		scheme = "http"
	}
	port := c.Port
	if port == 0 {
		port = model.DefaultCollectorPort
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(port)) + CollectorPath
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
