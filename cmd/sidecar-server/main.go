// Command sidecar-server runs the HTTP surface (spec.md §6): the Session
// Service's `/agentic/*` SSE routes plus the teacher's pre-existing
// workspace/task/flow routes, grounded on api/main/main.go's console-logger
// and graceful-shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sidecar/agent"
	"sidecar/api"
	"sidecar/common"
	"sidecar/domain"
	"sidecar/event"
	"sidecar/llm"
	"sidecar/session"
	"sidecar/srv/sqlite"
	"sidecar/toolbroker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("failed to load .env file")
	}

	storage, err := sqlite.NewDefaultStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sqlite storage")
	}

	baseDir, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve working directory")
	}

	sessionService := &session.Service{
		Sessions:         storage,
		Exchanges:        storage,
		Tools:            toolbroker.NewBroker(baseDir),
		Broker:           llm.NewBroker(),
		Cancels:          domain.NewCancellationRegistry(),
		Events:           event.NewSink(event.NewStreamer()),
		BaseDir:          baseDir,
		ToolDescriptions: agent.DefaultToolDescriptions(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.ForwardedByClientIP = true
	router.SetTrustedProxies(nil)
	api.DefineSessionApiRoutes(router, &api.SessionController{Sessions: sessionService})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", common.GetServerPort()),
		Handler: router.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start sidecar-server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("sidecar-server shutdown error")
	}
}
