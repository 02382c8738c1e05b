package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bracketlive/bracketd/internal/cache"
	"github.com/bracketlive/bracketd/internal/config"
	"github.com/bracketlive/bracketd/internal/model"
	"github.com/bracketlive/bracketd/internal/server"
	"github.com/bracketlive/bracketd/internal/startgg"
)

const (
	appName = "bracketd"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Tournament bracket BFF with freshness-aware caching",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Misconfiguration is fatal at startup, before any request.
		return fmt.Errorf("configuration: %w", err)
	}

	store := cache.New(cache.Options{
		RemoteURL: cfg.RemoteCacheURL,
		Promote:   cfg.CachePromote,
	})

	client := startgg.New(startgg.Config{
		Token:       cfg.UpstreamToken,
		BaseURL:     cfg.UpstreamBaseURL,
		MinInterval: cfg.MinInterval(),
		MaxRetries:  cfg.MaxRetries,
		RetryBase:   cfg.RetryBase(),
		PageSize:    cfg.PageSize,
		PageLimit:   cfg.PageLimit,
	})
	defer client.Close()

	srv := server.New(server.Config{
		Port:          cfg.ListenPort,
		AllowedOrigin: cfg.AllowedOrigin,
		Environment:   cfg.Environment,
	}, store, upstreamFetcher{client})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// upstreamFetcher adapts the startgg client to the server's Fetcher
// contract and logs page progress along the way.
type upstreamFetcher struct {
	client *startgg.Client
}

func (f upstreamFetcher) FetchTournament(ctx context.Context, slug string) (*model.Tournament, error) {
	return f.client.FetchTournament(ctx, slug,
		startgg.WithProgress(func(p startgg.Progress) {
			log.Debug().
				Str("event", p.EventSlug).
				Str("bracket", p.Bracket).
				Int("page", p.Page).
				Int("matches", p.Matches).
				Msg("fetch progress")
		}),
		startgg.WithBracketComplete(func(eventSlug, bracket string, matches int) {
			log.Debug().
				Str("event", eventSlug).
				Str("bracket", bracket).
				Int("matches", matches).
				Msg("bracket loaded")
		}),
	)
}
