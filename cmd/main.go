package main

import (
	"context"
	"errors"
	"fmt"
	"market-chat/auth"
	"market-chat/infrastructure/http/server"
	"market-chat/internal"
	"market-chat/moderation"
	"market-chat/observability"
	"market-chat/projection"
	"market-chat/repositories"
	"market-chat/runtime"
	"market-chat/runtime/workers"
	"market-chat/services"
	"market-chat/sink"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns the shutdown sequence, so deferred
// cleanups always execute before the process exits.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Stores & identity
	userRepository := repositories.NewUserRepository(db)
	messageRepository := repositories.NewMessageRepository(db, log)
	defer func() {
		_ = messageRepository.Close()
	}()

	tokens, err := auth.NewTokenIssuer(config.JwtSecret, config.JwtIssuer, config.AuthTokenDuration)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	authenticator := auth.NewAuthenticator(tokens, userRepository, log)

	// 4. Messaging core
	moderator, err := moderation.NewModerator(config.BlockedWordList())
	if err != nil {
		return fmt.Errorf("moderator: %w", err)
	}
	var policy runtime.ContentPolicy
	if moderator != nil {
		policy = moderator
	}
	monitoring := observability.NewMonitoringManager(log)
	registry := runtime.NewRegistry(config.RegistryShards)
	payloads := projection.NewPayloadBuilder(userRepository, log)
	aggregator := projection.NewConversationAggregator(messageRepository, log)
	chatService := services.NewChatService(messageRepository, aggregator, payloads, log,
		config.HistoryLimit, config.HistoryMaxLimit)
	gateway := runtime.NewGateway(log, registry, authenticator, messageRepository, payloads, monitoring,
		runtime.GatewayConfig{
			StoreTimeout:     config.StoreTimeout,
			MaxMessageLength: config.MaxMessageLength,
			Policy:           policy,
		})

	// 5. Context, signals & supervision
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewHealthMonitoringWorker(log, monitoring, registry.RoomCount, config.MetricInterval))
	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervisorDone)
	}()

	// 6. HTTP Server Setup
	router := server.NewRouter(server.Dependencies{
		Log:           log,
		Gateway:       gateway,
		ChatService:   chatService,
		Authenticator: authenticator,
		Monitoring:    monitoring,
		WS: server.WSConfig{
			Origins:         config.Origins(),
			AllowAllOrigins: config.AllowAllOrigins(),
			Sink: sink.Options{
				BufferSize:   config.ConnectionBufferSize,
				WriteTimeout: config.WriteTimeout,
				PingInterval: config.PingInterval,
			},
		},
	})
	httpServer := &http.Server{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", config.Address(), "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		gateway.Shutdown()
		sup.Stop()
		return err
	}

	// 8. Final Cleanup. Websockets are hijacked, the gateway closes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	gateway.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	sup.Stop()
	<-supervisorDone
	log.Info("Program stopped cleanly")

	return nil
}
