// VoiceCI orchestrator server: MCP tool surface, worker pool, and callback
// sink for automated voice-agent test runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/voiceci/voiceci/pkg/audiochannel"
	"github.com/voiceci/voiceci/pkg/callback"
	"github.com/voiceci/voiceci/pkg/config"
	"github.com/voiceci/voiceci/pkg/conversation"
	"github.com/voiceci/voiceci/pkg/database"
	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/executor"
	"github.com/voiceci/voiceci/pkg/llm"
	"github.com/voiceci/voiceci/pkg/machine"
	"github.com/voiceci/voiceci/pkg/probes"
	"github.com/voiceci/voiceci/pkg/rpc"
	"github.com/voiceci/voiceci/pkg/scheduler"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/telemetry"
	"github.com/voiceci/voiceci/pkg/voiceio"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := *configDir + "/.env"
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	cfg, err := config.Load(*configDir + "/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := database.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	logger.Info("connected to postgres")

	instruments, shutdownTelemetry, err := telemetry.Init(ctx, "voiceci")
	if err != nil {
		log.Fatalf("failed to init telemetry: %v", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	runs := store.NewRunRepository(dbClient.DB())
	scenarios := store.NewScenarioRepository(dbClient.DB())
	images := store.NewImageRepository(dbClient.DB())

	sessionMgr := session.NewManager()
	pushMgr := events.NewManager()

	openaiClient := openai.NewClient(os.Getenv("OPENAI_API_KEY"))
	probeDeps := probes.Deps{
		Synth: voiceio.NewOpenAISynthesizer(openaiClient),
		STT:   voiceio.NewOpenAITranscriber(openaiClient),
	}
	convoDeps := conversation.Deps{
		Caller: llm.NewOpenAIClient(openaiClient, getEnv("VOICECI_CALLER_MODEL", "gpt-4o-mini")),
		Judge:  llm.NewOpenAIClient(openaiClient, getEnv("VOICECI_JUDGE_MODEL", "gpt-4o-mini")),
		Synth:  probeDeps.Synth,
		STT:    probeDeps.STT,
	}

	// The builder-VM / SIP-trunk / LiveKit-room control planes are external
	// collaborators (machine.ControlPlane, audiochannel.Dialer,
	// audiochannel.RoomClient, audiochannel.CallLookup, rpc.ObjectStore) —
	// see DESIGN.md. machines is left nil here when MachinePool.Driver is
	// "in_process", meaning every run takes the in-process path regardless
	// of transport.
	var provisioner *machine.Provisioner
	if cfg.Machine.Driver == "remote" {
		log.Fatalf("machine_pool.driver=remote requires a ControlPlane implementation not wired in this build")
	}

	executorDeps := scheduler.NewExecutor(runs, scenarios, provisioner, resolveChannel, probeDeps, convoDeps, sessionMgr, pushMgr, logger, instruments)
	pool := scheduler.NewPool(fmt.Sprintf("%s-%d", hostname(), os.Getpid()), runs, &cfg.Queue, executorDeps, logger, instruments)
	pool.Start(ctx)
	defer pool.Stop()

	announcer := events.NewQueueAnnouncer(dbClient.DB())
	listener := events.NewListener(cfg.Database.DSN, logger)
	listener.OnActiveQueue(func(queueName string) {
		pool.AttachQueue(queueName)
	})
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("events listener stopped", "error", err)
		}
	}()

	auth := rpc.NewAuthenticator(cfg.APIKeys)
	loadDeps := rpc.LoadTestDeps{
		Transport:        store.TransportWSVoice,
		ProbeDeps:        probeDeps,
		ConversationDeps: convoDeps,
	}
	rpcServer := rpc.NewServer(auth, sessionMgr, pushMgr, runs, scenarios, nil /* ObjectStore: external collaborator */, loadDeps,
		func(ctx context.Context, tenantID string) {
			if err := announcer.Announce(ctx, tenantID); err != nil {
				logger.Warn("announce queue failed", "tenant_id", tenantID, "error", err)
			}
		})

	sharedSecret := os.Getenv(cfg.Callback.SharedSecretEnv)
	callbackHandler := callback.NewHandler(sharedSecret, runs, scenarios, images, sessionMgr, pushMgr, logger, instruments)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(reqCtx, dbClient.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth})
	})
	// pkg/telemetry.Init registered the otel Prometheus exporter against
	// the default registry; promhttp scrapes it from there.
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rpcServer.RegisterRoutes(engine)
	callbackHandler.RegisterRoutes(engine)

	srv := &http.Server{Addr: ":" + httpPort, Handler: engine}
	go func() {
		logger.Info("http server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// resolveChannel dispatches an adapter config's transport to the matching
// audiochannel constructor (§4.3). SIP/WebRTC/Retell/Bland require a
// Dialer, RoomClient, or CallLookup collaborator that production wiring
// supplies; absent here, those transports fail fast with a clear error
// rather than silently no-op (see DESIGN.md).
func resolveChannel(cfg store.AdapterConfig) executor.ChannelFactory {
	switch cfg.Transport {
	case store.TransportWSVoice:
		return func() (audiochannel.Channel, error) {
			return audiochannel.NewWebSocketChannel(cfg.AgentURL), nil
		}
	case store.TransportVapi:
		return func() (audiochannel.Channel, error) {
			return audiochannel.NewVapiChannel(cfg.AgentURL, cfg.PlatformCredRef), nil
		}
	case store.TransportElevenLabs:
		return func() (audiochannel.Channel, error) {
			return audiochannel.NewElevenLabsChannel(cfg.AgentURL, cfg.PlatformCredRef), nil
		}
	default:
		return func() (audiochannel.Channel, error) {
			return nil, fmt.Errorf("resolveChannel: transport %q requires a control-plane collaborator not wired in this build", cfg.Transport)
		}
	}
}

func logLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "voiceci"
	}
	return h
}

