package certs

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"time"
)

// CertRecord is one certificate of a host's presented chain
type CertRecord struct {
	Host        string
	Port        int
	Position    int // 0 is the leaf
	Subject     string
	Issuer      string
	Serial      string
	NotBefore   time.Time
	NotAfter    time.Time
	Fingerprint string // hex SHA-256 of the DER bytes
	DNSNames    []string
	CollectedAt time.Time
}

// Collector dials hosts over TLS and records their certificate chains
type Collector struct {
	Port    int
	Timeout time.Duration

	now func() time.Time
}

// NewCollector creates a collector for hosts listening on port
func NewCollector(port int, timeout time.Duration) *Collector {
	return &Collector{Port: port, Timeout: timeout, now: time.Now}
}

// Collect returns the chain presented by host. host may carry its own
// ":port", which overrides the collector's port.
func (c *Collector) Collect(ctx context.Context, host string) ([]CertRecord, error) {
	name, port, err := c.target(host)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName: name,
		// Expired and self-signed chains are inventoried too.
		InsecureSkipVerify: true, //nolint:gosec
	}}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(name, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificates presented")
	}

	collectedAt := c.now().UTC()
	records := make([]CertRecord, len(state.PeerCertificates))
	for i, cert := range state.PeerCertificates {
		records[i] = newRecord(name, port, i, cert, collectedAt)
	}
	return records, nil
}

func (c *Collector) target(host string) (string, int, error) {
	if name, p, err := net.SplitHostPort(host); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q", host)
		}
		return name, port, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	return host, c.Port, nil
}

func newRecord(host string, port, position int, cert *x509.Certificate, collectedAt time.Time) CertRecord {
	sum := sha256.Sum256(cert.Raw)
	return CertRecord{
		Host:        host,
		Port:        port,
		Position:    position,
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Serial:      cert.SerialNumber.String(),
		NotBefore:   cert.NotBefore.UTC(),
		NotAfter:    cert.NotAfter.UTC(),
		Fingerprint: hex.EncodeToString(sum[:]),
		DNSNames:    cert.DNSNames,
		CollectedAt: collectedAt,
	}
}
