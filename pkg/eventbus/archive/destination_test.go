package archive_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/archive"
	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
)

// fakeS3 records PUT requests.
type fakeS3 struct {
	mu     sync.Mutex
	method string
	path   string
	ctype  string
	body   string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.method, f.path, f.ctype, f.body = r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(body)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// isolateAWS keeps the SDK away from the host's credentials and config.
func isolateAWS(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

func TestS3Destination_Write(t *testing.T) {
	isolateAWS(t)
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	dest, err := archive.NewS3Destination(ctx, "events", "eventbus/export.jsonl", "us-east-1", srv.URL)
	require.NoError(t, err)

	require.NoError(t, dest.Write(ctx, []byte(`{"type":"header"}`+"\n")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, http.MethodPut, fake.method)
	assert.Equal(t, "/events/eventbus/export.jsonl", fake.path, "endpoint implies path-style addressing")
	assert.Equal(t, "application/x-ndjson", fake.ctype)
	assert.Contains(t, fake.body, `{"type":"header"}`)
}

func TestS3Destination_ServerError(t *testing.T) {
	isolateAWS(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	dest, err := archive.NewS3Destination(ctx, "events", "export.jsonl", "us-east-1", srv.URL)
	require.NoError(t, err)
	assert.ErrorContains(t, dest.Write(ctx, []byte("x")), "s3 put object")
}

func TestNewS3Destination_RequiresBucketAndKey(t *testing.T) {
	_, err := archive.NewS3Destination(context.Background(), "", "k", "us-east-1", "")
	assert.Error(t, err)
	_, err = archive.NewS3Destination(context.Background(), "b", "", "us-east-1", "")
	assert.Error(t, err)
}

func TestExport_FromBus(t *testing.T) {
	ctx := context.Background()
	w := logstore.NewMemoryWriter(logstore.WithoutCompaction())
	bus := eventbus.New()
	require.NoError(t, bus.Initialize(ctx, eventbus.Setup{Writers: []logstore.Writer{w}}))
	defer bus.Close(ctx)

	path := filepath.Join(t.TempDir(), "export.jsonl")
	n, err := archive.Export(ctx, bus, archive.FileDestination{Path: path})
	require.NoError(t, err)
	assert.Positive(t, n)
}
