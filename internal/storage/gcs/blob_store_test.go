package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/leadstream/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "lead-exports"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsCSV(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/lead-exports/o")
		assert.Equal(t, "exports/job-1/leads.csv", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "Name,Firm")
		assert.Contains(t, string(body), "text/csv")
		_, _ = fmt.Fprintln(w, `{"name":"exports/job-1/leads.csv","bucket":"lead-exports"}`)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), "exports/job-1/leads.csv", "text/csv",
		strings.NewReader("Name,Firm\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://lead-exports/exports/job-1/leads.csv", uri)
}

func TestPutObjectSurfacesUploadErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	store := newTestStore(t, handler)
	_, err := store.PutObject(context.Background(), "x.csv", "text/csv", strings.NewReader("data"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)

	store, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}
