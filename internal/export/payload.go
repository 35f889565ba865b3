// Package export runs the external data-export process with a single
// JSON configuration payload passed through its environment.
package export

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"tiershift/internal/config"

	"github.com/xeipuuv/gojsonschema"
)

// EnvVar is the child environment variable carrying the payload
const EnvVar = "DUCKDB_CONFIG"

//go:embed payload.schema.json
var payloadSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(payloadSchema)

// Secret is credential material. It never prints and can be zeroed.
type Secret []byte

func (s Secret) String() string { return "[redacted]" }

// MarshalJSON encodes the secret as a JSON string
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Zero overwrites the secret's bytes
func (s Secret) Zero() {
	clear(s)
}

// Payload is the configuration handed to the export process
type Payload struct {
	DatabaseType   string `json:"database_type"`
	Server         string `json:"server"`
	Database       string `json:"database"`
	Port           int    `json:"port"`
	AuthType       string `json:"auth_type"`
	Username       string `json:"username,omitempty"`
	Password       Secret `json:"password,omitempty"`
	S3BucketPath   string `json:"s3_bucket_path"`
	S3AccessKey    Secret `json:"s3_access_key,omitempty"`
	S3SecretKey    Secret `json:"s3_secret_key,omitempty"`
	S3SessionToken Secret `json:"s3_session_token,omitempty"`
	S3Region       string `json:"s3_region,omitempty"`
}

// PayloadFromConfig builds a payload from the export configuration
func PayloadFromConfig(cfg config.Export) *Payload {
	p := &Payload{
		DatabaseType: cfg.Database.Type,
		Server:       cfg.Database.Host,
		Database:     cfg.Database.Name,
		Port:         cfg.Database.Port,
		AuthType:     cfg.Database.AuthMode,
		S3BucketPath: strings.TrimSuffix(cfg.S3.Path, "/"),
		S3Region:     cfg.S3.Region,
	}
	if cfg.Database.AuthMode != "windows" {
		p.Username = cfg.Database.User
		p.Password = secret(cfg.Database.Password)
	}
	p.S3AccessKey = secret(cfg.S3.AccessKey)
	p.S3SecretKey = secret(cfg.S3.SecretKey)
	p.S3SessionToken = secret(cfg.S3.SessionToken)
	return p
}

func secret(s string) Secret {
	if s == "" {
		return nil
	}
	return Secret(s)
}

// Encode validates the payload against its schema and returns the JSON
// document. The caller owns the returned bytes and should zero them.
func (p *Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		clear(data)
		return nil, fmt.Errorf("failed to validate payload: %w", err)
	}
	if !result.Valid() {
		clear(data)
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, &InvalidPayloadError{Problems: msgs}
	}
	return data, nil
}

// ZeroCredentials wipes every credential held by the payload
func (p *Payload) ZeroCredentials() {
	for _, s := range []Secret{p.Password, p.S3AccessKey, p.S3SecretKey, p.S3SessionToken} {
		s.Zero()
	}
}

// InvalidPayloadError lists the schema violations of a payload
type InvalidPayloadError struct {
	Problems []string
}

func (e *InvalidPayloadError) Error() string {
	return "invalid export payload: " + strings.Join(e.Problems, "; ")
}
