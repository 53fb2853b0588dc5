package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/config"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/metrics"
	"github.com/gosuda/taskbridge/internal/remote"
	"github.com/gosuda/taskbridge/internal/server"
	"github.com/gosuda/taskbridge/internal/store/postgres"
	redisstore "github.com/gosuda/taskbridge/internal/store/redis"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

const usage = `usage: taskbridge [command]

commands:
  serve                     run the host server (default)
  keygen                    print a new operator API key and its hash
  operator-token <subject>  print an operator bearer token`

func main() {
	setupLogging()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = run()
	case "keygen":
		err = keygen()
	case "operator-token":
		err = operatorToken(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("taskbridge failed")
	}
}

// setupLogging initializes structured logging from environment.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("TASKBRIDGE_LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("TASKBRIDGE_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func run() error {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m := metrics.New()
	frames := frame.NewDirectory()
	frames.OnChange(func(n int) { m.FramesAttached.Set(float64(n)) })

	proxies := taskproxy.NewRegistry(frames,
		taskproxy.WithHandshakeTick(cfg.Proxy.HandshakeTick),
		taskproxy.WithObserver(m),
	)
	defer proxies.Close()

	deps := server.Deps{
		Frames:  frames,
		Proxies: proxies,
		Metrics: m,
	}

	// Submission store for the load/save helpers.
	if cfg.Database.Enabled() {
		if cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		deps.Store = store
	} else {
		log.Warn().Msg("TASKBRIDGE_DB_HOST not set; load/save helpers disabled")
	}

	// Redis carries frames served by other processes.
	if cfg.Redis.Addr != "" {
		pubsub, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer pubsub.Close()

		rf := remote.NewFrames(ctx, pubsub, frames, proxies, cfg.Server.PublicOrigin)
		defer rf.Close()
		deps.Remote = rf
	}

	srv := server.New(ctx, cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		errCh <- srv.Start(ctx)
	}()

	// Block until shutdown signal or a listen failure.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func keygen() error {
	raw, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("key:  %s\nhash: %s\n\nAdd the hash to TASKBRIDGE_API_KEY_HASHES; the key is not shown again.\n", raw, hash)
	return nil
}

func operatorToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("operator-token needs exactly one subject")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, err := auth.IssueOperatorToken(cfg.JWT.Secret, args[0], cfg.JWT.OperatorTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
