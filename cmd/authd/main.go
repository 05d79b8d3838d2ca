// cmd/authd — the DID-WBA responder daemon. It provisions (or reloads) the
// local identity, serves its DID document, authenticates peers via the
// DIDWba / Bearer middleware, issues access tokens, and publishes hosted DID
// documents submitted by authenticated peers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/internal/identity"
	"github.com/agentmesh/didwba-go/pkg/contacts"
	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/domains"
	"github.com/agentmesh/didwba-go/pkg/ledger"
	"github.com/agentmesh/didwba-go/pkg/server"
	"github.com/agentmesh/didwba-go/pkg/verifier"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("authd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("authd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("authd.port", 9527)
	viper.SetDefault("authd.host", "localhost")
	viper.SetDefault("authd.identity", "responder")
	viper.SetDefault("authd.did", "")
	viper.SetDefault("authd.base_path", "data")
	viper.SetDefault("authd.domains", []string{})
	viper.SetDefault("authd.cors_origins", []string{"*"})
	viper.SetDefault("authd.rate_limit_rps", 20)
	viper.SetDefault("authd.token_ttl_seconds", 3600)
	viper.SetDefault("authd.nonce_ttl_seconds", 600)
	viper.SetDefault("authd.doc_cache_ttl_seconds", 900)
	viper.SetDefault("authd.hosted_sweep_seconds", 30)
	viper.SetDefault("database.url", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	host := viper.GetString("authd.host")
	port := viper.GetInt("authd.port")

	// ── Identity ─────────────────────────────────────────────────────────────
	rawDID := viper.GetString("authd.did")
	if rawDID == "" {
		rawDID = did.Prefix + host
		if port != 80 && port != 443 {
			rawDID += "%3A" + strconv.Itoa(port)
		}
	}
	d, err := did.Parse(rawDID)
	if err != nil {
		return fmt.Errorf("responder DID: %w", err)
	}

	policy := domains.New(domains.Config{
		DefaultHost: host,
		DefaultPort: port,
		BasePath:    viper.GetString("authd.base_path"),
		Domains: append([]string{fmt.Sprintf("%s:%d", host, port)},
			viper.GetStringSlice("authd.domains")...),
	})
	paths := policy.AllDataPaths(host, port)

	ident, err := identity.NewStore(paths.DIDStore, logger).
		LoadOrCreate(viper.GetString("authd.identity"), d)
	if err != nil {
		return fmt.Errorf("identity setup: %w", err)
	}
	logger.Info("identity ready",
		zap.String("name", ident.Name),
		zap.String("did", ident.DID.String()),
	)

	// ── Stores ───────────────────────────────────────────────────────────────
	var (
		tokenStore   ledger.Store
		contactStore contacts.Store
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		tokenStore = ledger.NewPostgresStore(db, logger)
		contactStore = contacts.NewPostgresStore(db, logger)
	} else {
		logger.Info("stores: in-memory (set database.url for postgres)")
		tokenStore = ledger.NewMemoryStore()
		contactStore = contacts.NewMemoryStore()
	}

	led := ledger.New(ident.DID.String(), tokenStore, logger)
	peers := contacts.New(ident.DID.String(), contactStore, logger)

	// ── Verification engine ──────────────────────────────────────────────────
	engine := verifier.New(logger)
	nonceTTL := time.Duration(viper.GetInt("authd.nonce_ttl_seconds")) * time.Second
	if addr := viper.GetString("redis.addr"); addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{addr},
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		engine.SetNonceCache(server.NewRedisNonceCache(rdb, nonceTTL))
		logger.Info("nonce cache: redis", zap.String("addr", addr))
	} else {
		engine.SetNonceCache(verifier.NewMemoryNonceCache(nonceTTL))
		logger.Info("nonce cache: in-memory (set redis.addr for a shared cache)")
	}

	fetcher := did.NewFetcher(did.FetcherConfig{
		CacheTTL: time.Duration(viper.GetInt("authd.doc_cache_ttl_seconds")) * time.Second,
	}, logger)

	tokenTTL := time.Duration(viper.GetInt("authd.token_ttl_seconds")) * time.Second
	issuer := server.NewTokenIssuer(ident.TokenKey, ident.DID.String(), tokenTTL)

	auth, err := server.NewAuthenticator(server.AuthenticatorConfig{
		Signer:   ident.Signer(),
		Fetcher:  fetcher,
		Engine:   engine,
		Issuer:   issuer,
		Policy:   policy,
		Ledger:   led,
		Contacts: peers,
	}, logger)
	if err != nil {
		return err
	}

	queue, err := server.NewHostedDIDQueue(paths, logger)
	if err != nil {
		return fmt.Errorf("hosted DID queue: %w", err)
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS. Authorization is exposed because successful handshakes return the
	// access token in that response header.
	corsOrigins := viper.GetStringSlice("authd.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Authorization"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	// Per-IP rate limiting
	var limiter *server.RateLimiter
	if rps := viper.GetInt("authd.rate_limit_rps"); rps > 0 {
		limiter = server.NewRateLimiter(rps, rps*2)
		router.Use(limiter.Middleware())
	}

	router.Use(server.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/metrics", server.MetricsHandler())

	h := server.NewHandler(auth, queue, led, ident.Document, logger)
	h.SetPeerDirectory(peers)
	h.Register(router)

	// ── Background sweeps ─────────────────────────────────────────────────────
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if limiter != nil {
		limiter.StartCleanup(bgCtx, 5*time.Minute)
	}
	queue.StartProcessing(bgCtx, time.Duration(viper.GetInt("authd.hosted_sweep_seconds"))*time.Second)
	fetcher.StartCacheEviction(bgCtx, time.Minute)

	// Expired outbound tokens are swept every 10 minutes.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := led.CleanupExpiredTokens(sweepCtx); err != nil {
					logger.Warn("token cleanup error", zap.Error(err))
				}
				done()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("authd listening",
			zap.Int("port", port),
			zap.String("did", ident.DID.String()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down authd...")
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("authd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
