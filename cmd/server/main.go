package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/shobu13/kindly-kappa/internal/api"
	"github.com/shobu13/kindly-kappa/internal/bugs"
	"github.com/shobu13/kindly-kappa/internal/config"
	"github.com/shobu13/kindly-kappa/internal/db"
	"github.com/shobu13/kindly-kappa/internal/eval"
	"github.com/shobu13/kindly-kappa/internal/events"
	"github.com/shobu13/kindly-kappa/internal/ratelimit"
	"github.com/shobu13/kindly-kappa/internal/relay"
	"github.com/shobu13/kindly-kappa/internal/retention"
	"github.com/shobu13/kindly-kappa/internal/room"
	"github.com/shobu13/kindly-kappa/internal/ws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer glog.Flush()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "kappa",
		Short:        "Collaborative debugging rooms with bug injection",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default ./kappa.toml if present)")
	flags.String(config.KeyAddr, ":8000", "listen address")
	flags.String(config.KeyDBPath, "./data/kappa.db", "sqlite history database; empty disables history")
	flags.String(config.KeyEvalURL, "http://localhost:8060", "code evaluation sandbox")
	flags.String(config.KeyRedisAddr, "", "redis address for the broadcast mirror; empty disables it")
	flags.Uint64(config.KeySeed, 0, "bug engine seed; 0 seeds from the clock")
	for _, key := range []string{config.KeyAddr, config.KeyDBPath, config.KeyEvalURL, config.KeyRedisAddr, config.KeySeed} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	// glog registers -v, -logtostderr and friends on the go flag set
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	return rootCmd
}

func run(ctx context.Context, cfg config.Config) error {
	var database *db.Database
	if cfg.DBPath != "" {
		var err error
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer database.Close()
	}

	var publisher *relay.Publisher
	if cfg.RedisAddr != "" {
		var err error
		publisher, err = relay.New(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	evaluator := eval.New(eval.Config{URL: cfg.EvalURL, Timeout: cfg.EvalTimeout, CacheTTL: cfg.EvalCacheTTL})
	defer evaluator.Close()

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	engine := bugs.NewEngine(rand.NewPCG(seed, seed>>1|1))

	var registryOpts []room.Option
	serviceOpts := []events.Option{events.WithEvaluator(evaluator)}
	var mirror api.StateReader
	if database != nil {
		registryOpts = append(registryOpts, room.WithObserver(database))
		serviceOpts = append(serviceOpts, events.WithJournal(database))
	}
	if publisher != nil {
		registryOpts = append(registryOpts, room.WithMirror(publisher))
		mirror = publisher
	}
	registry := room.NewRegistry(registryOpts...)
	service := events.NewService(registry, engine, serviceOpts...)

	connects := ratelimit.NewKeyedLimiters(cfg.ConnectRate, cfg.ConnectBurst, time.Minute)
	defer connects.Stop()
	sessions := ws.NewServer(ctx, service, connects, ws.Options{
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		MaxViolations:     cfg.MaxViolations,
	})

	router := mux.NewRouter()
	router.Handle("/room", sessions)
	router.Handle("/ws", sessions)
	api.New(registry, database, mirror).Routes(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if database != nil {
		janitor := retention.New(database, retention.Config{
			Interval:         cfg.RetentionInterval,
			KeepRounds:       cfg.KeepRounds,
			EvaluationMaxAge: cfg.EvaluationMaxAge,
		})
		janitor.Start()
		defer janitor.Stop()
	}

	glog.Infof("[server] listening on %s", cfg.Addr)
	glog.Infof("[server] history store: %s", describe(cfg.DBPath))
	glog.Infof("[server] redis mirror: %s", describe(cfg.RedisAddr))
	glog.Infof("[server] evaluation sandbox: %s", cfg.EvalURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		glog.Info("[server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func describe(setting string) string {
	if setting == "" {
		return "disabled"
	}
	return setting
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
