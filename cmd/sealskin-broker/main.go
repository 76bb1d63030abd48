// Command sealskin-broker runs the application session broker: the API
// listener (CryptoChannel handshake, encrypted admin/launch/share control
// plane, collaboration room) and the session listener (ReverseProxy) share
// one in-memory Broker, so both mains live in a single process rather than
// two — SessionStore and the collaboration Hub are mutated by launches on
// the API side and read by the proxy on the session side, and splitting
// them into separate processes would mean reconciling that state over a
// file instead of memory, which §5 never calls for.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/streamspace/sealskin/internal/app"
	"github.com/streamspace/sealskin/internal/config"
	"github.com/streamspace/sealskin/internal/httpapi"
	"github.com/streamspace/sealskin/internal/logger"
)

func main() {
	settings := config.Load()
	logger.Initialize(settings.LogLevel, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := app.Build(ctx, settings)
	if err != nil {
		log.Fatalf("failed to build broker: %v", err)
	}
	defer broker.Shutdown()

	if err := broker.Jobs.Start(); err != nil {
		log.Fatalf("failed to start background jobs: %v", err)
	}

	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.APIPort),
		Handler: httpapi.NewAPIRouter(broker),
	}
	sessionSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.SessionPort),
		Handler: httpapi.NewSessionRouter(broker),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		logger.Broker().Info().Int("port", settings.APIPort).Msg("API listener starting")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Broker().Fatal().Err(err).Msg("API listener failed")
		}
	}()

	go func() {
		defer wg.Done()
		logger.Proxy().Info().Int("port", settings.SessionPort).Msg("session listener starting")

		var err error
		if settings.ProxyCertPath != "" && settings.ProxyKeyPath != "" {
			err = sessionSrv.ListenAndServeTLS(settings.ProxyCertPath, settings.ProxyKeyPath)
		} else {
			logger.Proxy().Warn().Msg("no TLS certificate configured, serving session traffic in cleartext")
			err = sessionSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Proxy().Fatal().Err(err).Msg("session listener failed")
		}
	}()

	<-ctx.Done()
	logger.Broker().Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = sessionSrv.Shutdown(shutdownCtx)
	wg.Wait()

	os.Exit(0)
}
