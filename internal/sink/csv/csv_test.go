package csvsink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func sampleBatch() []lead.Annotated {
	return []lead.Annotated{
		lead.Annotate(lead.Candidate{
			Name:         "Jane Doe",
			Firm:         "Doe, Partners",
			Source:       "justia",
			Region:       "Texas",
			DiscoveredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}, lead.Flags{Name: true, Firm: true}),
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleBatch()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Name,Firm,Email,Website,Source,State,Timestamp,Name Verified,Firm Verified,"+
		"Email Verified,Website Verified,Confidence Score", lines[0])
	assert.Equal(t, `Jane Doe,"Doe, Partners",,,justia,Texas,2024-01-02T03:04:05Z,true,true,false,false,0.4`, lines[1])
}

func TestWriterStoresOneObjectPerBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	clock := fixedClock{t: time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)}
	w, err := New(store, clock, Config{Prefix: "/exports/"}, nil)
	require.NoError(t, err)

	ctx := lead.WithJobID(context.Background(), "job-9")
	require.NoError(t, w.Persist(ctx, sampleBatch()))
	require.NoError(t, w.Persist(ctx, nil))

	require.Equal(t, []string{"exports/job-9/leads_20240607_080910.csv"}, store.Paths())
	obj, ok := store.Get("exports/job-9/leads_20240607_080910.csv")
	require.True(t, ok)
	assert.Equal(t, ContentType, obj.ContentType)
	assert.Contains(t, string(obj.Data), "Jane Doe")
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

func TestWriterPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("PutObject", mock.Anything, "leads_20240101_000000.csv", ContentType, mock.Anything).
		Return("", errors.New("bucket missing"))
	w, err := New(store, fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, Config{}, nil)
	require.NoError(t, err)

	err = w.Persist(context.Background(), sampleBatch())
	require.ErrorContains(t, err, "bucket missing")
	store.AssertExpectations(t)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, fixedClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), nil, Config{}, nil)
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "attorney_leads_20240101.csv", FileName("attorney_leads", "20240101"))
}
