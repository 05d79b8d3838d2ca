package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentmesh/didwba-go/internal/identity"
	"github.com/agentmesh/didwba-go/pkg/client"
	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/domains"
	"github.com/agentmesh/didwba-go/pkg/server"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	basePath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wba",
	Short: "DID-WBA identity and authentication CLI",
	Long: `wba is the command-line interface for the didwba agent-auth layer.

It provisions local did:wba identities, resolves peer DID documents, and
exercises the DIDWba handshake against responders.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".wba"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if basePath == "" {
			basePath = viper.GetString("base_path")
		}
		if basePath == "" {
			if home, err := os.UserHomeDir(); err == nil {
				basePath = filepath.Join(home, ".wba", "data")
			} else {
				basePath = "data"
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.wba/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "", "identity data directory (default ~/.wba/data)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── init ─────────────────────────────────────────────────────────────────────

var (
	initName  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init <did:wba:...>",
	Short: "Provision a local identity for a did:wba identifier",
	Long: `init generates (or reloads) the key material for a local identity: the
secp256k1 key behind its verification method, the RSA key that signs access
tokens, and the did.json document publishing the public half.

Files land under <base-path>/<host>_<port>/did_store/<name>/:

  wba init did:wba:example.com%3A8800
  wba init --name alice did:wba:example.com:user:alice`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "default", "Identity name within the DID store")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Regenerate keys even when the identity already exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	d, err := did.Parse(args[0])
	if err != nil {
		return err
	}

	policy := domains.New(domains.Config{BasePath: basePath})
	store := identity.NewStore(policy.AllDataPaths(d.Host, d.Port).DIDStore, zap.NewNop())

	var ident *identity.Identity
	if initForce {
		ident, err = store.Create(initName, d)
	} else {
		ident, err = store.LoadOrCreate(initName, d)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ Identity ready\n\n")
	fmt.Printf("  DID:      %s\n", ident.DID)
	fmt.Printf("  Name:     %s\n", ident.Name)
	fmt.Printf("  Dir:      %s\n", store.Dir(ident.Name))
	fmt.Printf("  Document: %s\n\n", ident.DID.DocumentURL())
	fmt.Println("Publish did.json at the document URL so peers can resolve this identity.")
	return nil
}

// ── resolve ──────────────────────────────────────────────────────────────────

// resolveRow holds the outcome of a single DID resolution attempt.
type resolveRow struct {
	did string
	doc *did.Document
	err error
}

var (
	resolveFormat   string
	resolveTimeout  time.Duration
	resolveInsecure bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <did:wba:...> [did:wba:...] ...",
	Short: "Resolve one or more did:wba identifiers to their DID documents",
	Long: `Resolve fetches the DID document each identifier publishes. Loopback
hosts are fetched over plain HTTP, everything else over HTTPS.

Multiple DIDs are resolved concurrently and displayed as a table:

  wba resolve did:wba:a.example.com did:wba:b.example.com:user:bob`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "text", "Output format: text or json")
	resolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", 10*time.Second, "Timeout per document fetch")
	resolveCmd.Flags().BoolVar(&resolveInsecure, "insecure", false, "Skip TLS certificate verification (development only)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	// Validate all DIDs up-front.
	for _, rawDID := range args {
		if _, err := did.Parse(rawDID); err != nil {
			return err
		}
	}

	fetcher := did.NewFetcher(did.FetcherConfig{HTTPTimeout: resolveTimeout}, zap.NewNop())
	if resolveInsecure {
		fetcher.SetHTTPClient(insecureHTTPClient(resolveTimeout))
	}

	ctx := context.Background()

	// Resolve all DIDs concurrently.
	resultsCh := make(chan resolveRow, len(args))
	for _, rawDID := range args {
		rawDID := rawDID
		go func() {
			doc, err := fetcher.Fetch(ctx, rawDID)
			resultsCh <- resolveRow{did: rawDID, doc: doc, err: err}
		}()
	}

	// Collect in input order.
	ordered := make([]resolveRow, len(args))
	byDID := make(map[string]resolveRow, len(args))
	for range args {
		r := <-resultsCh
		byDID[r.did] = r
	}
	for i, rawDID := range args {
		ordered[i] = byDID[rawDID]
	}

	switch resolveFormat {
	case "json":
		return printResolveJSON(ordered)
	default:
		return printResolveText(ordered)
	}
}

func printResolveJSON(results []resolveRow) error {
	type jsonRow struct {
		DID      string        `json:"did"`
		Document *did.Document `json:"document,omitempty"`
		Error    string        `json:"error,omitempty"`
	}
	rows := make([]jsonRow, len(results))
	for i, r := range results {
		rows[i] = jsonRow{DID: r.did, Document: r.doc}
		if r.err != nil {
			rows[i].Error = r.err.Error()
		}
	}
	// Single result: unwrap from array for convenience.
	var v any = rows
	if len(rows) == 1 {
		v = rows[0]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResolveText(results []resolveRow) error {
	if len(results) == 1 {
		r := results[0]
		if r.err != nil {
			return fmt.Errorf("resolve %q: %w", r.did, r.err)
		}
		fmt.Printf("DID:       %s\n", r.doc.ID)
		if d, err := did.Parse(r.did); err == nil {
			fmt.Printf("Document:  %s\n", d.DocumentURL())
		}
		for _, vm := range r.doc.VerificationMethod {
			fmt.Printf("Method:    %s (%s)\n", vm.ID, vm.Type)
		}
		return nil
	}

	// Multiple results: tabulated.
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DID\tMETHODS\tERROR")
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(w, "%s\t\t%s\n", r.did, r.err.Error())
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t\n", r.did, len(r.doc.VerificationMethod))
	}
	return w.Flush()
}

// ── call ─────────────────────────────────────────────────────────────────────

var (
	callDID       string
	callName      string
	callMethod    string
	callData      string
	callRespDID   string
	callSingleWay bool
	callTimeout   time.Duration
	callInsecure  bool
)

var callCmd = &cobra.Command{
	Use:   "call <url>",
	Short: "Make a DIDWba-authenticated request",
	Long: `call signs a DIDWba credential with a local identity and sends it to the
target URL. When the responder's DID is known (--resp-did), the mutual
two-way credential is tried first, falling back to single-way on rejection.

The access token issued by the responder is printed so follow-up requests
can reuse it:

  wba call --did did:wba:me.example.com \
      --resp-did did:wba:svc.example.com \
      https://svc.example.com/wba/whoami`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callDID, "did", "", "Caller DID (or the 'did' config key)")
	callCmd.Flags().StringVar(&callName, "identity", "", "Identity name within the DID store (default \"default\")")
	callCmd.Flags().StringVarP(&callMethod, "method", "X", "GET", "HTTP method")
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body")
	callCmd.Flags().StringVar(&callRespDID, "resp-did", "", "Responder DID (enables the two-way credential)")
	callCmd.Flags().BoolVar(&callSingleWay, "single-way", false, "Skip the two-way attempt even when --resp-did is set")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Overall request timeout")
	callCmd.Flags().BoolVar(&callInsecure, "insecure", false, "Skip TLS certificate verification (development only)")
}

func runCall(cmd *cobra.Command, args []string) error {
	ident, err := loadIdentity(flagOr(callDID, "did"), flagOr(callName, "identity"))
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithSigner(ident.Signer())}
	if callInsecure {
		opts = append(opts, client.WithHTTPClient(insecureHTTPClient(callTimeout)))
	}
	cli, err := client.New(opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var body []byte
	if callData != "" {
		body = []byte(callData)
	}

	rsp, err := cli.Call(ctx, &client.Request{
		Method:    callMethod,
		URL:       args[0],
		Body:      body,
		RespDID:   callRespDID,
		SingleWay: callSingleWay,
	})
	if err != nil {
		return err
	}
	if !rsp.AuthPass {
		return fmt.Errorf("authentication failed: %s (HTTP %d)", rsp.Message, rsp.Status)
	}

	fmt.Printf("✓ Authenticated (%s)\n\n", rsp.Message)
	fmt.Printf("  Status: %d\n", rsp.Status)
	if rsp.Token != "" {
		fmt.Printf("  Token:  %s\n", rsp.Token)
	}
	fmt.Println()
	printBody(rsp.Body)
	return nil
}

// loadIdentity reads a provisioned identity from the per-domain DID store.
func loadIdentity(didStr, name string) (*identity.Identity, error) {
	if didStr == "" {
		return nil, fmt.Errorf("caller DID is required (--did flag or the 'did' config key)")
	}
	if name == "" {
		name = "default"
	}

	d, err := did.Parse(didStr)
	if err != nil {
		return nil, err
	}

	policy := domains.New(domains.Config{BasePath: basePath})
	ident, err := identity.NewStore(policy.AllDataPaths(d.Host, d.Port).DIDStore, zap.NewNop()).Load(name)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return nil, fmt.Errorf("identity %q not provisioned for %s — run 'wba init %s' first", name, didStr, didStr)
		}
		return nil, err
	}
	if ident.DID.String() != didStr {
		return nil, fmt.Errorf("stored identity %q belongs to %s, not %s", name, ident.DID, didStr)
	}
	return ident, nil
}

// flagOr falls back to a viper config key when the flag was left empty.
func flagOr(flagValue, key string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}

// insecureHTTPClient skips TLS verification, for development responders with
// self-signed certificates.
func insecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}
}

// printBody pretty-prints JSON bodies and passes anything else through.
func printBody(body []byte) {
	if len(body) == 0 {
		return
	}
	var buf bytes.Buffer
	if json.Indent(&buf, body, "", "  ") == nil {
		fmt.Println(buf.String())
		return
	}
	fmt.Println(string(body))
}

// ── probe ────────────────────────────────────────────────────────────────────

// probeRow holds the outcome of probing one endpoint.
type probeRow struct {
	url     string
	status  int
	auth    bool
	mode    string
	latency time.Duration
	err     error
}

var (
	probeDID         string
	probeName        string
	probeRespDID     string
	probeConcurrency int
	probeTimeout     time.Duration
	probeInsecure    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe <url> [url...]",
	Short: "Authenticate against many responders concurrently",
	Long: `probe fans authenticated requests out to every URL and reports how each
responder answered. Probes are single-way unless --resp-did names the
responder (all targets must then share that DID):

  wba probe --did did:wba:me.example.com \
      https://a.example.com/wba/whoami https://b.example.com/wba/whoami`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeDID, "did", "", "Caller DID (or the 'did' config key)")
	probeCmd.Flags().StringVar(&probeName, "identity", "", "Identity name within the DID store (default \"default\")")
	probeCmd.Flags().StringVar(&probeRespDID, "resp-did", "", "Responder DID shared by every target")
	probeCmd.Flags().IntVar(&probeConcurrency, "concurrency", 8, "Maximum in-flight probes")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Overall probe deadline")
	probeCmd.Flags().BoolVar(&probeInsecure, "insecure", false, "Skip TLS certificate verification (development only)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ident, err := loadIdentity(flagOr(probeDID, "did"), flagOr(probeName, "identity"))
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithSigner(ident.Signer())}
	if probeInsecure {
		opts = append(opts, client.WithHTTPClient(insecureHTTPClient(probeTimeout)))
	}
	cli, err := client.New(opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	rows := make([]probeRow, len(args))
	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, target := range args {
		i, target := i, target
		g.Go(func() error {
			start := time.Now()
			rsp, err := cli.Call(ctx, &client.Request{URL: target, RespDID: probeRespDID})
			row := probeRow{url: target, latency: time.Since(start)}
			if err != nil {
				row.err = err
			} else {
				row.status = rsp.Status
				row.auth = rsp.AuthPass
				row.mode = rsp.Message
			}
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait() // workers report through rows, never an error

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tSTATUS\tAUTH\tMODE\tLATENCY\tERROR")
	pass := 0
	for _, r := range rows {
		if r.err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\t%s\n",
				r.url, r.latency.Round(time.Millisecond), r.err.Error())
			continue
		}
		auth := "fail"
		if r.auth {
			auth = "pass"
			pass++
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t\n",
			r.url, r.status, auth, r.mode, r.latency.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d/%d endpoints authenticated\n", pass, len(rows))
	return nil
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenFormat string

var tokenCmd = &cobra.Command{
	Use:   "token <access-token>",
	Short: "Decode an access token's claims without verifying its signature",
	Long: `token decodes the claims of a DID-WBA access token for inspection.

The signature is NOT checked — this is a debugging aid, not an authenticity
check. Responders verify tokens against the issuer's RSA key.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFormat, "format", "text", "Output format: text or json")
}

func runToken(cmd *cobra.Command, args []string) error {
	claims := &server.AccessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(args[0], claims); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	if tokenFormat == "json" {
		out, err := json.MarshalIndent(claims, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Issuer:   %s\n", claims.Issuer)
	fmt.Printf("Subject:  %s\n", claims.Subject)
	fmt.Printf("Req DID:  %s\n", claims.ReqDID)
	fmt.Printf("Resp DID: %s\n", claims.RespDID)
	fmt.Printf("Token ID: %s\n", claims.ID)
	if claims.IssuedAt != nil {
		fmt.Printf("Issued:   %s\n", claims.IssuedAt.Format(time.RFC3339))
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		if remaining := time.Until(exp); remaining > 0 {
			fmt.Printf("Expires:  %s (in %s)\n", exp.Format(time.RFC3339), remaining.Round(time.Second))
		} else {
			fmt.Printf("Expires:  %s (EXPIRED %s ago)\n", exp.Format(time.RFC3339), (-remaining).Round(time.Second))
		}
	}
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wba CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wba %s (didwba-go)\n", version)
	},
}
