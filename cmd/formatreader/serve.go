package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/formatreader/internal/api"
	"github.com/zsiec/formatreader/internal/certs"
	"github.com/zsiec/formatreader/internal/config"
	"github.com/zsiec/formatreader/internal/dispatch"
	"github.com/zsiec/formatreader/internal/ingest"
	srtingest "github.com/zsiec/formatreader/internal/ingest/srt"
	"github.com/zsiec/formatreader/internal/session"
	"github.com/zsiec/formatreader/internal/stream"
	"github.com/zsiec/formatreader/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var flags config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the query API and the SRT ingest listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)
			return serve(cfg)
		},
	}

	def := config.Defaults()
	fs := cmd.Flags()
	fs.StringVar(&flags.APIAddr, "api-addr", def.APIAddr, "HTTPS API listen address (FR_API_ADDR)")
	fs.StringVar(&flags.H3Addr, "h3-addr", def.H3Addr, "HTTP/3 API listen address (FR_H3_ADDR)")
	fs.StringVar(&flags.SRTAddr, "srt-addr", def.SRTAddr, "SRT listen address (FR_SRT_ADDR)")
	fs.IntVar(&flags.ParseWorkers, "workers", def.ParseWorkers, "concurrent parse workers (FR_PARSE_WORKERS)")
	fs.DurationVar(&flags.QueryTimeout, "query-timeout", def.QueryTimeout, "bound on blocking queries, 0 waits indefinitely (FR_QUERY_TIMEOUT)")
	fs.StringVar(&flags.ContentType, "content-type", def.ContentType, "container content type (FR_CONTENT_TYPE)")
	fs.BoolVar(&flags.OTelStdout, "otel-stdout", false, "export trace spans to stdout (FR_OTEL_STDOUT)")
	fs.Int64Var(&flags.SpoolLimit, "spool-limit", def.SpoolLimit, "bytes buffered per ingest stream (FR_SPOOL_LIMIT)")
	fs.StringVar(&flags.MediaRoot, "media-root", def.MediaRoot, "directory the API may open files from, empty disables it (FR_MEDIA_ROOT)")
	return cmd
}

// applyFlags copies the flags set on the command line over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	fs := cmd.Flags()
	if fs.Changed("api-addr") {
		cfg.APIAddr = flags.APIAddr
	}
	if fs.Changed("h3-addr") {
		cfg.H3Addr = flags.H3Addr
	}
	if fs.Changed("srt-addr") {
		cfg.SRTAddr = flags.SRTAddr
	}
	if fs.Changed("workers") && flags.ParseWorkers > 0 {
		cfg.ParseWorkers = flags.ParseWorkers
	}
	if fs.Changed("query-timeout") {
		cfg.QueryTimeout = flags.QueryTimeout
	}
	if fs.Changed("content-type") {
		cfg.ContentType = flags.ContentType
	}
	if fs.Changed("otel-stdout") {
		cfg.OTelStdout = flags.OTelStdout
	}
	if fs.Changed("spool-limit") {
		cfg.SpoolLimit = flags.SpoolLimit
	}
	if fs.Changed("media-root") {
		cfg.MediaRoot = flags.MediaRoot
	}
}

func serve(cfg config.Config) error {
	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("generating cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Service: "formatreader",
		Version: version,
		Stdout:  cfg.OTelStdout,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	readers := stream.NewManager(session.Config{
		ContentType:  cfg.ContentType,
		QueryTimeout: cfg.QueryTimeout,
		Pool:         dispatch.NewPool(cfg.ParseWorkers, nil),
	}, nil)
	defer readers.Close()

	registry := ingest.NewRegistry(cfg.SpoolLimit, func(s *ingest.Stream) {
		openIngested(readers, s)
	}, nil)
	caller := srtingest.NewCaller(cfg.ContentType, registry, nil)
	srtSrv := srtingest.NewServer(cfg.SRTAddr, cfg.ContentType, registry, nil)

	apiSrv, err := api.NewServer(api.Config{
		Addr:         cfg.H3Addr,
		Cert:         cert,
		Readers:      readers,
		Ingest:       registry,
		SRT:          caller,
		MediaRoot:    cfg.MediaRoot,
		QueryTimeout: cfg.QueryTimeout,
	}, nil)
	if err != nil {
		return err
	}

	httpsSrv := &http.Server{
		Addr:      cfg.APIAddr,
		Handler:   apiSrv.Handler(),
		TLSConfig: cert.TLSConfig(),
	}

	slog.Info("formatreader starting",
		"version", version,
		"srt", cfg.SRTAddr,
		"api", cfg.APIAddr,
		"h3", cfg.H3Addr,
		"content_type", cfg.ContentType,
		"workers", cfg.ParseWorkers,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.APIAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	return g.Wait()
}

// openIngested starts a reader on a sealed ingest spool. A reader left over
// from an earlier publish under the same key is replaced.
func openIngested(readers *stream.Manager, s *ingest.Stream) {
	if _, ok := readers.Get(s.Key); ok {
		slog.Info("replacing reader for republished stream", "key", s.Key)
		readers.Remove(s.Key)
	}
	_, err := readers.Open(stream.OpenRequest{
		Key:      s.Key,
		Origin:   stream.OriginSRT,
		Location: s.RemoteAddr(),
		Source:   s.Spool(),
	})
	if err != nil {
		slog.Error("opening reader for ingest stream", "key", s.Key, "error", err)
	}
}
