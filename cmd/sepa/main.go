// Command sepa runs the SPARQL Event Processing broker: it loads
// configuration, wires the SPU Manager to a backing endpoint, and
// serves the REST and WebSocket gateways off a single *http.ServeMux.
// Wiring and graceful-shutdown shape are adapted from the teacher's
// cmd/syntrix-api and cmd/syntrix-realtime entrypoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arces-wot/sepa/internal/auth"
	"github.com/arces-wot/sepa/internal/config"
	"github.com/arces-wot/sepa/internal/dependability"
	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/endpoint/memory"
	"github.com/arces-wot/sepa/internal/endpoint/mongostore"
	"github.com/arces-wot/sepa/internal/filter"
	"github.com/arces-wot/sepa/internal/gateway/rest"
	"github.com/arces-wot/sepa/internal/gateway/ws"
	"github.com/arces-wot/sepa/internal/logging"
	"github.com/arces-wot/sepa/internal/manager"
)

func main() {
	bootLog, _, err := logging.New(config.LoggingConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "sepa: bootstrap logger:", err)
		os.Exit(1)
	}

	configDir := os.Getenv("SEPA_CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	cfg, err := config.Load(configDir, bootLog)
	if err != nil {
		bootLog.Error("sepa: loading configuration", "err", err)
		os.Exit(1)
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		bootLog.Error("sepa: initializing logging", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	ep, err := newEndpoint(cfg.Endpoint)
	if err != nil {
		log.Error("sepa: initializing endpoint", "err", err)
		os.Exit(1)
	}

	principals := auth.NewPrincipalStore()
	tokens := auth.NewTokenService([]byte(cfg.Auth.Secret), time.Duration(cfg.Auth.TTLMinutes)*time.Minute)

	opts := []manager.Option{
		WithFilterMode(cfg.Manager.FilterMode, log),
		manager.WithRetryBudget(cfg.Manager.EndpointRetryBudget),
		manager.WithPerSPUTimeout(spuTimeout(cfg.Manager)),
	}

	var notifier *dependability.NATSNotifier
	if cfg.Dependability.Enabled {
		conn, err := nats.Connect(cfg.Dependability.URL)
		if err != nil {
			log.Error("sepa: connecting to dependability broker", "err", err)
			os.Exit(1)
		}
		notifier = dependability.NewNATSNotifier(conn, log)
		defer notifier.Close()
		opts = append(opts, manager.WithDependabilityNotifier(notifier))
	}

	mgr := manager.New(ep, uuid.NewString, uuid.NewString, log, opts...)

	mux := http.NewServeMux()
	rest.NewHandler(mgr, ep, tokens, log).WithLocalCredentials(principals, tokens).RegisterRoutes(mux)
	ws.NewHandler(mgr, tokens, uuid.NewString, log).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		log.Info("sepa: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("sepa: listen", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("sepa: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("sepa: forced shutdown", "err", err)
	}
	mgr.Shutdown()
	log.Info("sepa: exited")
}

func newEndpoint(cfg config.EndpointConfig) (endpoint.Client, error) {
	switch cfg.Backend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("sepa: connecting to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("sepa: pinging mongo: %w", err)
		}
		store := mongostore.New(client, client.Database(cfg.MongoDB), cfg.Collection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("sepa: ensuring mongo indexes: %w", err)
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

func spuTimeout(cfg config.ManagerConfig) time.Duration {
	return time.Duration(cfg.SPUProcessingTimeoutMs) * time.Millisecond
}

// WithFilterMode builds the filter.Filter option named by
// cfg.FilterMode, falling back to filter.All (the always-correct
// default) if lut compilation fails.
func WithFilterMode(mode string, log interface{ Warn(string, ...any) }) manager.Option {
	if mode != "lut" {
		return func(*manager.Manager) {}
	}
	lut, err := filter.NewLUT()
	if err != nil {
		log.Warn("sepa: compiling lut filter, falling back to all", "err", err)
		return func(*manager.Manager) {}
	}
	return manager.WithFilter(lut)
}
