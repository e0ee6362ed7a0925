package lead

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", Request{Regions: []string{"California"}, Category: "Personal Injury"}, true},
		{"no regions", Request{Category: "Tax"}, false},
		{"blank region", Request{Regions: []string{"California", "  "}, Category: "Tax"}, false},
		{"blank category", Request{Regions: []string{"Texas"}, Category: " "}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.req.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, "regions and category are required", err.Error())
		})
	}
}

func TestRequestNormalize(t *testing.T) {
	t.Parallel()

	got := Request{Regions: []string{" New York "}, Category: " Tax "}.Normalize()
	assert.Equal(t, Request{Regions: []string{"New York"}, Category: "Tax"}, got)
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusSucceeded.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobIDContext(t *testing.T) {
	t.Parallel()

	_, ok := JobIDFromContext(context.Background())
	assert.False(t, ok)
	id, ok := JobIDFromContext(WithJobID(context.Background(), "job-7"))
	require.True(t, ok)
	assert.Equal(t, "job-7", id)
}

func TestRowsSkipBlankNamesAndFormatValues(t *testing.T) {
	t.Parallel()

	rec := Annotate(Candidate{
		Name:         "J. Smith",
		Region:       "California",
		DiscoveredAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}, Flags{Name: true, Firm: true, Email: true})

	rows := Rows([]Annotated{rec, {}})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(Header))
	assert.Equal(t, "J. Smith", rows[0][0])
	assert.Equal(t, "2024-05-06T07:08:09Z", rows[0][6])
	assert.Equal(t, "true", rows[0][7])
	assert.Equal(t, "false", rows[0][10])
	assert.Equal(t, "0.7", rows[0][11])
}
