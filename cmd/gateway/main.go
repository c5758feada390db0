package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ensemblegateway/internal/config"
	"ensemblegateway/internal/ensemble/fetcher"
	"ensemblegateway/internal/httpapi"
	"ensemblegateway/internal/observability"
	"ensemblegateway/internal/upstream/client"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	log.Info().Msg("gateway starting")

	baseCtx := context.Background()
	var shutdown func(context.Context) error
	if cfg.Obs.OTLP != "" {
		s, err := observability.InitOTel(baseCtx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			shutdown = s
		}
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)
	upstreamClient := client.New(httpClient)

	transport := httpapi.NewStaticTransport(cfg.Upstream.Providers)
	reqCtx := httpapi.NewStaticRequestContext(cfg.Upstream.Providers)
	source := httpapi.UnimplementedDefinitionFetcher{}

	server := httpapi.NewServer(httpapi.Server{
		Client:    upstreamClient,
		Transport: transport,
		ReqCtx:    reqCtx,
		Fetcher:   fetcher.New(source),
		Source:    source,
		Providers: httpapi.ProvidersFromConfig(cfg.Upstream.Providers, transport),
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: server}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	} else {
		log.Info().Msg("gateway stopped")
	}
}
