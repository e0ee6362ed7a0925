package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "job-1/leads.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://job-1/leads.csv", uri)

	payload[0] = 'C'
	obj, ok := store.Get("job-1/leads.csv")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "text/csv", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("job-1/leads.csv")
	assert.Equal(t, "content", string(again.Data))
	assert.Equal(t, []string{"job-1/leads.csv"}, store.Paths())
}

func TestBlobStoreReadFailureStoresNothing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "bad", "", errReader{})
	require.Error(t, err)
	_, ok := store.Get("bad")
	assert.False(t, ok)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
