// Package domains decides which hosts a responder will answer for and where
// each host's data lives on disk.
//
// A Policy is built from an allow-list of domain entries. An entry is either
// exact ("localhost", "service.example.com:8800" — no port means port 80) or
// a wildcard suffix ("*.localhost") that matches any subdomain on any port.
// Every supported host:port pair maps to its own directory under the policy's
// base path, which is the namespace boundary per-tenant state (DID documents,
// keys, token ledgers) is scoped by.
package domains

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// defaultPort is assumed whenever a host header or allow-list entry names no
// port.
const defaultPort = 80

// Sub-directories derived for every domain's data path.
const (
	didStoreDir         = "did_store"
	hostedDIDStoreDir   = "hosted_did_store"
	agentConfigDir      = "agent_config"
	hostedDIDQueueDir   = "hosted_did_queue"
	hostedDIDResultsDir = "hosted_did_results"
)

// HostPort is a parsed Host header value.
type HostPort struct {
	Host string
	Port int
}

// Authority renders the pair back into "host:port" form, bracketing IPv6
// literals.
func (hp HostPort) Authority() string {
	host := hp.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(hp.Port)
}

// DomainConfig is the memoized per-host view of the policy.
type DomainConfig struct {
	Domain    string `json:"domain"`
	Supported bool   `json:"supported"`
	Port      int    `json:"port"`
	DataPath  string `json:"data_path"`
}

// DataPaths lists the storage locations derived for one domain.
type DataPaths struct {
	Root             string // base directory for this host:port
	DIDStore         string // local identities (keys, did.json)
	HostedDIDStore   string // DID documents published on behalf of peers
	AgentConfig      string // per-agent configuration
	HostedDIDQueue   string // pending hosted-DID submissions
	HostedDIDResults string // processing outcomes for submissions
}

// Config configures a Policy.
type Config struct {
	// DefaultHost and DefaultPort are substituted when an inbound request
	// carries an empty Host header.
	DefaultHost string
	DefaultPort int

	// BasePath roots every per-domain data path. Relative paths are kept
	// relative; AbsoluteDataPath resolves them on demand.
	BasePath string

	// Domains is the allow-list: exact entries ("localhost",
	// "service.example.com:8800") and wildcard suffixes ("*.localhost").
	Domains []string
}

// Policy answers "is this host trusted?" and "where does its data live?".
// Lookups are memoized per host; mutating the allow-list invalidates the
// memo. Safe for concurrent use.
type Policy struct {
	defaultHost string
	defaultPort int
	basePath    string

	mu        sync.RWMutex
	exact     map[string]int // host → required port
	wildcards []string       // suffixes including the leading dot
	memo      map[string]*DomainConfig
}

// New builds a Policy from cfg.
func New(cfg Config) *Policy {
	p := &Policy{
		defaultHost: cfg.DefaultHost,
		defaultPort: cfg.DefaultPort,
		basePath:    cfg.BasePath,
		exact:       make(map[string]int),
		memo:        make(map[string]*DomainConfig),
	}
	if p.defaultHost == "" {
		p.defaultHost = "localhost"
	}
	if p.defaultPort == 0 {
		p.defaultPort = defaultPort
	}
	if p.basePath == "" {
		p.basePath = "data"
	}
	for _, entry := range cfg.Domains {
		p.addLocked(entry)
	}
	return p
}

// ParseHostHeader splits a Host header into host and port.
//
// Bracketed IPv6 literals are unwrapped ("[::1]:9527" → "::1", 9527). A
// missing or non-numeric port falls back to 80; an empty value falls back to
// the configured default host and port.
func (p *Policy) ParseHostHeader(value string) HostPort {
	value = strings.TrimSpace(value)
	if value == "" {
		return HostPort{Host: p.defaultHost, Port: p.defaultPort}
	}

	host := value
	portStr := ""

	if strings.HasPrefix(value, "[") {
		// IPv6 literal, optionally followed by ":port".
		end := strings.Index(value, "]")
		if end < 0 {
			// Unterminated bracket; take the rest as the host.
			host = strings.TrimPrefix(value, "[")
			return HostPort{Host: strings.ToLower(host), Port: defaultPort}
		}
		host = value[1:end]
		rest := value[end+1:]
		if strings.HasPrefix(rest, ":") {
			portStr = rest[1:]
		}
	} else if i := strings.LastIndex(value, ":"); i >= 0 && !strings.Contains(value[:i], ":") {
		// A single colon separates host and port; more than one colon means an
		// unbracketed IPv6 literal, which carries no port.
		host = value[:i]
		portStr = value[i+1:]
	}

	port := defaultPort
	if portStr != "" {
		if n, err := strconv.Atoi(portStr); err == nil && n > 0 && n <= 65535 {
			port = n
		}
	}
	return HostPort{Host: strings.ToLower(host), Port: port}
}

// IsSupportedDomain reports whether host (with the given port; 0 means 80) is
// on the allow-list. Exact entries must match both host and port; wildcard
// entries match any port.
func (p *Policy) IsSupportedDomain(host string, port int) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if port <= 0 {
		port = defaultPort
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if want, ok := p.exact[host]; ok && want == port {
		return true
	}
	for _, suffix := range p.wildcards {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// AddDomain adds an allow-list entry at runtime and invalidates the memo.
func (p *Policy) AddDomain(entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(entry)
	p.memo = make(map[string]*DomainConfig)
}

// RemoveDomain removes an allow-list entry and invalidates the memo. Wildcard
// entries are removed by the same spelling they were added with.
func (p *Policy) RemoveDomain(entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasPrefix(entry, "*.") {
		suffix := strings.ToLower(entry[1:])
		kept := p.wildcards[:0]
		for _, w := range p.wildcards {
			if w != suffix {
				kept = append(kept, w)
			}
		}
		p.wildcards = kept
	} else {
		host, _ := splitEntry(entry)
		delete(p.exact, host)
	}
	p.memo = make(map[string]*DomainConfig)
}

// ClearCache drops all memoized domain configs.
func (p *Policy) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memo = make(map[string]*DomainConfig)
}

// DomainConfig returns the memoized config for one host. The port is taken
// from the host's exact allow-list entry when present, the policy default
// otherwise.
func (p *Policy) DomainConfig(host string) *DomainConfig {
	host = strings.ToLower(strings.TrimSpace(host))

	p.mu.RLock()
	if cfg, ok := p.memo[host]; ok {
		p.mu.RUnlock()
		return cfg
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	// Recheck: another goroutine may have filled the memo meanwhile.
	if cfg, ok := p.memo[host]; ok {
		return cfg
	}

	port, ok := p.exact[host]
	if !ok {
		port = p.defaultPort
	}
	cfg := &DomainConfig{
		Domain:    host,
		Supported: p.supportedLocked(host, port),
		Port:      port,
		DataPath:  p.dataPath(host, port),
	}
	p.memo[host] = cfg
	return cfg
}

// DataPathForDomain returns the storage directory for one host:port under the
// policy's base path. Non-alphanumeric characters in the host are replaced
// with underscores and the port is appended, so "::1":9527 becomes
// "__1_9527".
func (p *Policy) DataPathForDomain(host string, port int) string {
	if port <= 0 {
		port = defaultPort
	}
	return p.dataPath(strings.ToLower(strings.TrimSpace(host)), port)
}

// AbsoluteDataPathForDomain is DataPathForDomain resolved against the current
// working directory.
func (p *Policy) AbsoluteDataPathForDomain(host string, port int) (string, error) {
	return filepath.Abs(p.DataPathForDomain(host, port))
}

// AllDataPaths derives every storage location for one host:port.
func (p *Policy) AllDataPaths(host string, port int) DataPaths {
	root := p.DataPathForDomain(host, port)
	return DataPaths{
		Root:             root,
		DIDStore:         filepath.Join(root, didStoreDir),
		HostedDIDStore:   filepath.Join(root, hostedDIDStoreDir),
		AgentConfig:      filepath.Join(root, agentConfigDir),
		HostedDIDQueue:   filepath.Join(root, hostedDIDQueueDir),
		HostedDIDResults: filepath.Join(root, hostedDIDResultsDir),
	}
}

// addLocked parses one allow-list entry into the exact map or wildcard list.
func (p *Policy) addLocked(entry string) {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if entry == "" {
		return
	}
	if strings.HasPrefix(entry, "*.") {
		p.wildcards = append(p.wildcards, entry[1:]) // keep the dot
		return
	}
	host, port := splitEntry(entry)
	p.exact[host] = port
}

// supportedLocked is IsSupportedDomain without the locking, for callers that
// already hold the mutex.
func (p *Policy) supportedLocked(host string, port int) bool {
	if want, ok := p.exact[host]; ok && want == port {
		return true
	}
	for _, suffix := range p.wildcards {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// dataPath builds the per-domain directory name under the base path.
func (p *Policy) dataPath(host string, port int) string {
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	b.WriteString(strconv.Itoa(port))
	return filepath.Join(p.basePath, b.String())
}

// splitEntry splits an exact allow-list entry into host and port, defaulting
// the port to 80.
func splitEntry(entry string) (string, int) {
	if i := strings.LastIndex(entry, ":"); i >= 0 && !strings.Contains(entry[:i], ":") {
		if n, err := strconv.Atoi(entry[i+1:]); err == nil && n > 0 && n <= 65535 {
			return entry[:i], n
		}
	}
	return entry, defaultPort
}
