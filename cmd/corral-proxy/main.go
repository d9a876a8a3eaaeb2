// Package main is the entry point for corral-proxy, the authenticating
// reverse proxy and idle/timeout enforcement sweep (spec §4.7, §4.6
// "enforce"; grounded on kandev's orchestrator cmd/main.go bootstrap).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/httpmw"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/facade/httpapi"
	"github.com/corralhq/corral/internal/proxy"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: $HOST_DIR/config.toml)")
	addr := flag.String("addr", ":8080", "address to listen on")
	enforceInterval := flag.Duration("enforce-interval", time.Minute, "how often to run the idle/timeout enforcement sweep")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Minute, "host idle timeout before it is stopped or destroyed")
	idlePolicy := flag.String("idle-policy", "stop", "what to do to an idle host: stop or destroy")
	flag.Parse()

	// 1. Build the facade: load configuration and wire every configured
	// provider backend into a live registry.
	f, err := facade.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corral-proxy: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	log := f.Log
	defer log.Sync()

	log.Info("starting corral-proxy")

	// 2. Context with cancellation, used by the background enforcement
	// sweep.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. HTTP router: request logging, panic recovery, then the proxy
	// handler itself.
	if f.Config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "corral-proxy"))
	router.Use(httpmw.Recovery(log))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	handler := proxy.New(f.Resolver, f.AuthStore, log, f.Engine)
	handler.Register(router)
	httpapi.Register(router, f)

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (WebSocket-upgraded proxies) must not be capped
	}

	// 4. Background enforcement sweep: periodically stop or destroy idle
	// hosts across every configured provider instance.
	go runEnforcementLoop(ctx, f, log, *enforceInterval, *idleTimeout, *idlePolicy)

	// 5. Start the HTTP server.
	go func() {
		log.Info("http server listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 6. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down corral-proxy")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
}

func runEnforcementLoop(ctx context.Context, f *facade.Facade, log *logger.Logger, interval, idleTimeout time.Duration, idlePolicy string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := f.Enforce(ctx, engine.EnforceOptions{
				Providers:     f.Registry.List(),
				CheckIdle:     true,
				CheckTimeouts: true,
				Timeouts:      engine.Timeouts{Idle: idleTimeout},
				IdlePolicy:    idlePolicy,
				ErrorBehavior: engine.ErrorBehaviorContinue,
			})
			log.Info("enforcement sweep completed", zap.Int("hosts_checked", result.HostsChecked), zap.Int("idle_violations", result.IdleViolations), zap.Int("actions", len(result.Actions)))
		}
	}
}
