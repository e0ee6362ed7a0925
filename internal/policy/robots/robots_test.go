package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyHonorsDisallow(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /lawyers/private")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New("leadstream-test", srv.Client(), nil)
	ctx := context.Background()
	assert.True(t, p.Allowed(ctx, srv.URL+"/lawyers/personal-injury/california"))
	assert.False(t, p.Allowed(ctx, srv.URL+"/lawyers/private/list"))
	assert.EqualValues(t, 1, robotsHits.Load(), "robots.txt is cached per host")
}

func TestPolicyAgentSpecificGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "User-agent: leadstream-test\nDisallow: /\n\nUser-agent: *\nAllow: /")
	}))
	defer srv.Close()

	ctx := context.Background()
	assert.False(t, New("leadstream-test", srv.Client(), nil).Allowed(ctx, srv.URL+"/lawyers"))
	assert.True(t, New("someone-else", srv.Client(), nil).Allowed(ctx, srv.URL+"/lawyers"))
}

func TestPolicyAllowsWhenRobotsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	assert.True(t, New("leadstream-test", srv.Client(), nil).Allowed(context.Background(), srv.URL+"/lawyers"))
}

func TestPolicyAllowsOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.True(t, New("leadstream-test", nil, nil).Allowed(context.Background(), url+"/lawyers"))
}

func TestPolicyRejectsBadURL(t *testing.T) {
	assert.False(t, New("leadstream-test", nil, nil).Allowed(context.Background(), "::bad"))
}
