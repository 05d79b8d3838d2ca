package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/didwba-go/pkg/server"
)

func newLimitedServer(t *testing.T, rps, burst int) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(server.NewRateLimiter(rps, burst).Middleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRateLimiter_throttlesBurst(t *testing.T) {
	srv := newLimitedServer(t, 1, 2)

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/ping")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: got %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "1" {
		t.Errorf("Retry-After: got %q", resp.Header.Get("Retry-After"))
	}
}

func TestRateLimiter_isolatesClients(t *testing.T) {
	srv := newLimitedServer(t, 1, 1)

	send := func(forwardedFor string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/ping", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := send("10.0.0.1"); got != http.StatusOK {
		t.Fatalf("first client: got %d", got)
	}
	if got := send("10.0.0.1"); got != http.StatusTooManyRequests {
		t.Fatalf("first client, second hit: got %d, want 429", got)
	}
	// A different source address gets its own bucket.
	if got := send("10.0.0.2"); got != http.StatusOK {
		t.Fatalf("second client: got %d", got)
	}
}
