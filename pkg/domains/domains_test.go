package domains_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/agentmesh/didwba-go/pkg/domains"
)

func newPolicy() *domains.Policy {
	return domains.New(domains.Config{
		DefaultHost: "localhost",
		DefaultPort: 9527,
		BasePath:    "data",
		Domains:     []string{"localhost:9527", "service.example.com", "*.localhost"},
	})
}

func TestParseHostHeader(t *testing.T) {
	p := newPolicy()

	cases := []struct {
		input string
		host  string
		port  int
	}{
		{"[::1]:9527", "::1", 9527},
		{"[::1]", "::1", 80},
		{"localhost:8800", "localhost", 8800},
		{"localhost", "localhost", 80},
		{"localhost:invalid", "localhost", 80}, // non-numeric port reads as absent
		{"Example.COM:443", "example.com", 443},
		{"  service.example.com  ", "service.example.com", 80},
		{"", "localhost", 9527}, // configured default
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got := p.ParseHostHeader(tc.input)
			if got.Host != tc.host || got.Port != tc.port {
				t.Errorf("ParseHostHeader(%q) = %v, want {%s %d}", tc.input, got, tc.host, tc.port)
			}
		})
	}
}

func TestIsSupportedDomain(t *testing.T) {
	p := newPolicy()

	cases := []struct {
		host string
		port int
		want bool
	}{
		{"localhost", 9527, true},
		{"localhost", 8080, false},            // exact entry, wrong port
		{"service.example.com", 80, true},     // entry without port means 80
		{"service.example.com", 0, true},      // zero port reads as 80
		{"service.example.com", 8800, false},  // entry without port, non-80 query
		{"sub.localhost", 80, true},           // wildcard, not explicitly listed
		{"sub.localhost", 12345, true},        // wildcard ignores port
		{"deep.sub.localhost", 9527, true},    // wildcard matches any depth
		{"evil-localhost", 80, false},         // suffix must sit on a label boundary
		{"other.example.com", 80, false},
		{"SERVICE.example.com", 80, true},     // host comparison is case-insensitive
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.host, func(t *testing.T) {
			if got := p.IsSupportedDomain(tc.host, tc.port); got != tc.want {
				t.Errorf("IsSupportedDomain(%q, %d) = %v, want %v", tc.host, tc.port, got, tc.want)
			}
		})
	}
}

func TestAddRemoveDomain_invalidateMemo(t *testing.T) {
	p := newPolicy()

	if cfg := p.DomainConfig("new.example.com"); cfg.Supported {
		t.Fatal("new.example.com should not be supported yet")
	}

	p.AddDomain("new.example.com:8800")
	cfg := p.DomainConfig("new.example.com")
	if !cfg.Supported {
		t.Error("expected support after AddDomain")
	}
	if cfg.Port != 8800 {
		t.Errorf("Port: got %d, want 8800", cfg.Port)
	}

	p.RemoveDomain("new.example.com:8800")
	if cfg := p.DomainConfig("new.example.com"); cfg.Supported {
		t.Error("expected support to be gone after RemoveDomain")
	}
}

func TestDomainConfig_memoized(t *testing.T) {
	p := newPolicy()

	first := p.DomainConfig("localhost")
	second := p.DomainConfig("localhost")
	if first != second {
		t.Error("expected the memoized pointer on a repeat lookup")
	}

	p.ClearCache()
	third := p.DomainConfig("localhost")
	if first == third {
		t.Error("expected a fresh config after ClearCache")
	}
	if third.Port != 9527 {
		t.Errorf("Port from allow-list entry: got %d, want 9527", third.Port)
	}
}

func TestDataPathForDomain(t *testing.T) {
	p := newPolicy()

	cases := []struct {
		host string
		port int
		want string
	}{
		{"service.example.com", 80, filepath.Join("data", "service_example_com_80")},
		{"::1", 9527, filepath.Join("data", "__1_9527")},
		{"localhost", 0, filepath.Join("data", "localhost_80")},
	}

	for _, tc := range cases {
		if got := p.DataPathForDomain(tc.host, tc.port); got != tc.want {
			t.Errorf("DataPathForDomain(%q, %d) = %q, want %q", tc.host, tc.port, got, tc.want)
		}
	}
}

func TestAllDataPaths(t *testing.T) {
	p := newPolicy()

	paths := p.AllDataPaths("localhost", 9527)
	root := filepath.Join("data", "localhost_9527")

	if paths.Root != root {
		t.Errorf("Root: got %q, want %q", paths.Root, root)
	}
	want := map[string]string{
		"DIDStore":         filepath.Join(root, "did_store"),
		"HostedDIDStore":   filepath.Join(root, "hosted_did_store"),
		"AgentConfig":      filepath.Join(root, "agent_config"),
		"HostedDIDQueue":   filepath.Join(root, "hosted_did_queue"),
		"HostedDIDResults": filepath.Join(root, "hosted_did_results"),
	}
	got := map[string]string{
		"DIDStore":         paths.DIDStore,
		"HostedDIDStore":   paths.HostedDIDStore,
		"AgentConfig":      paths.AgentConfig,
		"HostedDIDQueue":   paths.HostedDIDQueue,
		"HostedDIDResults": paths.HostedDIDResults,
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s: got %q, want %q", name, got[name], w)
		}
	}
}

func TestHostPort_Authority(t *testing.T) {
	if got := (domains.HostPort{Host: "::1", Port: 9527}).Authority(); got != "[::1]:9527" {
		t.Errorf("Authority: got %q", got)
	}
	if got := (domains.HostPort{Host: "localhost", Port: 80}).Authority(); got != "localhost:80" {
		t.Errorf("Authority: got %q", got)
	}
}

func TestPolicy_concurrentLookupAndInvalidation(t *testing.T) {
	p := newPolicy()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.DomainConfig("localhost")
				_ = p.IsSupportedDomain("sub.localhost", 80)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.ClearCache()
			}
		}()
	}
	wg.Wait()

	if cfg := p.DomainConfig("localhost"); !cfg.Supported {
		t.Error("localhost should still be supported after concurrent churn")
	}
}
