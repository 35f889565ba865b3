package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"tiershift/internal/config"
	"tiershift/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	helperEnv     = "TIERSHIFT_EXPORT_HELPER"
	helperOutEnv  = "TIERSHIFT_EXPORT_HELPER_OUT"
	helperExitEnv = "TIERSHIFT_EXPORT_HELPER_EXIT"
	helperWaitEnv = "TIERSHIFT_EXPORT_HELPER_SLEEP"
)

// TestHelperProcess stands in for the export tool when re-executed by the
// tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if out := os.Getenv(helperOutEnv); out != "" {
		_ = os.WriteFile(out, []byte(os.Getenv(EnvVar)), 0o600)
	}
	if d, err := time.ParseDuration(os.Getenv(helperWaitEnv)); err == nil {
		time.Sleep(d)
	}
	code, _ := strconv.Atoi(os.Getenv(helperExitEnv))
	os.Exit(code)
}

func helperRunner(t *testing.T, timeout time.Duration) (*Runner, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "payload.json")
	t.Setenv(helperEnv, "1")
	t.Setenv(helperOutEnv, out)

	r := NewRunner(os.Args[0], []string{"-test.run=^TestHelperProcess$"}, timeout, zap.NewNop())
	r.Stdout, r.Stderr = &bytes.Buffer{}, &bytes.Buffer{}
	return r, out
}

func testPayload() *Payload {
	return PayloadFromConfig(config.Export{
		Database: config.ExportDatabase{
			Type:     "postgresql",
			Host:     "db.internal",
			Port:     5432,
			Name:     "sales",
			User:     "exporter",
			Password: "hunter2",
			AuthMode: "password",
		},
		S3: config.S3Config{
			Path:      "s3://archive/sales/",
			Region:    "eu-west-1",
			AccessKey: "AKIA",
			SecretKey: "s3cr3t",
		},
	})
}

func assertZeroed(t *testing.T, p *Payload) {
	t.Helper()
	for _, s := range []Secret{p.Password, p.S3AccessKey, p.S3SecretKey} {
		assert.Equal(t, make([]byte, len(s)), []byte(s))
	}
}

func TestRunner_PassesPayloadThroughEnvironment(t *testing.T) {
	r, out := helperRunner(t, time.Minute)
	p := testPayload()

	require.NoError(t, r.Run(context.Background(), p))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "postgresql", got["database_type"])
	assert.Equal(t, "db.internal", got["server"])
	assert.Equal(t, "sales", got["database"])
	assert.Equal(t, float64(5432), got["port"])
	assert.Equal(t, "password", got["auth_type"])
	assert.Equal(t, "exporter", got["username"])
	assert.Equal(t, "hunter2", got["password"])
	assert.Equal(t, "s3://archive/sales", got["s3_bucket_path"])
	assert.Equal(t, "AKIA", got["s3_access_key"])
	assert.Equal(t, "s3cr3t", got["s3_secret_key"])
	assert.NotContains(t, got, "s3_session_token")

	assertZeroed(t, p)
	_, set := os.LookupEnv(EnvVar)
	assert.False(t, set, "parent environment is untouched")
}

func TestRunner_NonZeroExit(t *testing.T) {
	r, _ := helperRunner(t, time.Minute)
	t.Setenv(helperExitEnv, "3")
	p := testPayload()

	err := r.Run(context.Background(), p)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assertZeroed(t, p)
}

func TestRunner_Timeout(t *testing.T) {
	r, _ := helperRunner(t, 200*time.Millisecond)
	t.Setenv(helperWaitEnv, "10s")
	p := testPayload()

	err := r.Run(context.Background(), p)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertZeroed(t, p)
}

func TestRunner_InvalidPayloadNeverStarts(t *testing.T) {
	r, out := helperRunner(t, time.Minute)
	p := testPayload()
	p.Server = ""

	err := r.Run(context.Background(), p)
	var invalid *InvalidPayloadError
	require.ErrorAs(t, err, &invalid)
	assert.NoFileExists(t, out)
	assertZeroed(t, p)
}

func TestPayload_Schema(t *testing.T) {
	cases := map[string]func(*Payload){
		"unknown database type":      func(p *Payload) { p.DatabaseType = "mysql" },
		"bad port":                   func(p *Payload) { p.Port = 0 },
		"not an s3 path":             func(p *Payload) { p.S3BucketPath = "/tmp/out" },
		"password auth without user": func(p *Payload) { p.Username = "" },
		"windows auth on postgresql": func(p *Payload) { p.AuthType = "windows" },
		"access key without secret":  func(p *Payload) { p.S3SecretKey = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testPayload()
			mutate(p)
			_, err := p.Encode()
			var invalid *InvalidPayloadError
			assert.ErrorAs(t, err, &invalid)
		})
	}

	windows := testPayload()
	windows.DatabaseType = "sqlserver"
	windows.AuthType = "windows"
	windows.Username, windows.Password = "", nil
	_, err := windows.Encode()
	assert.NoError(t, err)
}

func TestPayload_WindowsAuthDropsPassword(t *testing.T) {
	p := PayloadFromConfig(config.Export{
		Database: config.ExportDatabase{Type: "sqlserver", Host: "mssql", Port: 1433, Name: "dw", User: "u", Password: "p", AuthMode: "windows"},
		S3:       config.S3Config{Path: "s3://b"},
	})
	assert.Empty(t, p.Username)
	assert.Nil(t, p.Password)
	assert.Nil(t, p.S3AccessKey)
}

func TestSecret_NeverPrints(t *testing.T) {
	p := testPayload()
	printed := fmt.Sprintf("%v %+v", p, *p)
	assert.NotContains(t, printed, "hunter2")
	assert.NotContains(t, printed, "s3cr3t")
	assert.Contains(t, printed, "[redacted]")
}

type fakeStorage struct {
	buckets map[string][]storage.ObjectInfo
	listed  string
}

func (f *fakeStorage) BucketExists(_ context.Context, bucket string) (bool, error) {
	_, ok := f.buckets[bucket]
	return ok, nil
}

func (f *fakeStorage) ListObjects(_ context.Context, bucket, prefix string) (<-chan storage.ObjectInfo, <-chan error) {
	f.listed = bucket + "/" + prefix
	objCh := make(chan storage.ObjectInfo, len(f.buckets[bucket]))
	errCh := make(chan error)
	for _, obj := range f.buckets[bucket] {
		objCh <- obj
	}
	close(objCh)
	close(errCh)
	return objCh, errCh
}

func TestExporter_MissingBucket(t *testing.T) {
	r, out := helperRunner(t, time.Minute)
	p := testPayload()

	_, err := NewExporter(r, &fakeStorage{}, zap.NewNop()).Export(context.Background(), p)
	require.ErrorIs(t, err, ErrBucketNotFound)
	assert.NoFileExists(t, out)
	assertZeroed(t, p)
}

func TestExporter_CountsExportedObjects(t *testing.T) {
	r, _ := helperRunner(t, time.Minute)
	client := &fakeStorage{buckets: map[string][]storage.ObjectInfo{
		"archive": {{Key: "sales/public/a/a.parquet", Size: 100}, {Key: "sales/metadata/m.json", Size: 20}},
	}}

	result, err := NewExporter(r, client, zap.NewNop()).Export(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "archive/sales", client.listed)
	assert.Equal(t, storage.Location{Bucket: "archive", Prefix: "sales"}, result.Location)
	assert.Equal(t, int64(2), result.Objects)
	assert.Equal(t, int64(120), result.Bytes)
}
