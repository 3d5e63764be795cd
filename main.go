// Command companion is the main entrypoint for the stream companion service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the chat bot, the GSI heartbeat sweep, the timer scheduler, and
//     the OAuth token refresher for prediction credentials.
//   - Exposes the HTTP surface: GSI ingest, overlay websockets, OAuth
//     onboarding, /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dotalayer/companion/betting"
	"github.com/dotalayer/companion/chat"
	"github.com/dotalayer/companion/config"
	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/gsi"
	"github.com/dotalayer/companion/oauth"
	"github.com/dotalayer/companion/predictions"
	"github.com/dotalayer/companion/server"
	"github.com/dotalayer/companion/telemetry"
	"github.com/dotalayer/companion/timers"
	"github.com/dotalayer/companion/twitchapi"
	"github.com/dotalayer/companion/ws"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("companion", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Migrations: versioned (golang-migrate) first, embedded SQL as fallback for
	// deployments predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Best-effort app token prefetch so Helix calls do not pay the grant on first use.
	appTokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		tctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := appTokens.Get(tctx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}
	helixClient := &twitchapi.HelixClient{AppTokenSource: appTokens, ClientID: cfg.TwitchClientID}

	// Core wiring. The websocket hub doubles as the notifier for engine and
	// heartbeat events; the chat bot doubles as the publisher for announcements.
	users := &dbAccess{db: database}
	hub := ws.NewHub()
	bot := chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	engine := betting.NewEngine(betting.NewSQLStore(database), bot, hub, &helixChatters{hc: helixClient})
	dispatcher := betting.NewDispatcher(engine, bot, users)
	bot.OnMessage(func(ctx context.Context, channel string, sender chat.Sender, text string) {
		dispatcher.HandleChatMessage(ctx, channel, betting.Bettor{
			TwitchID:    sender.TwitchID,
			DisplayName: sender.DisplayName,
			Username:    sender.Username,
		}, text)
	})

	classifier := gsi.NewClassifier()
	heartbeat := gsi.NewHeartbeat(users, hub, classifier, cfg.HeartbeatInterval, cfg.HeartbeatMaxAge)
	predClient := predictions.New(cfg.TwitchClientID, cfg.TwitchClientSecret)
	orchestrator := gsi.NewOrchestrator(engine, predClient, users, users, classifier)
	gsiHandler := gsi.NewHandler(gsi.NewAuthenticator(users), heartbeat, classifier, orchestrator)

	scheduler := timers.NewScheduler(timers.NewSQLStore(database), bot, users, cfg.TimerInterval)

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("chat bot disabled", slog.Any("err", err))
	} else {
		channels, err := db.TrustedChannels(ctx, database)
		if err != nil {
			slog.Error("trusted channel load failed", slog.Any("err", err))
			os.Exit(1)
		}
		bot.Join(channels...)
		go func() {
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("chat bot exited", slog.Any("err", err))
			}
		}()
		go scheduler.Start(ctx)
	}

	go heartbeat.Start(ctx)

	// Prediction credentials go stale within hours; refresh them ahead of expiry.
	oauth.StartRefresher(ctx, database, server.ScopePredictions, 5*time.Minute, 15*time.Minute,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
			res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return "", "", time.Time{}, err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), nil
		})

	startPprofIfEnabled()

	handlers := &server.Handlers{
		DB:         database,
		Cfg:        cfg,
		Engine:     engine,
		GSI:        gsiHandler,
		Heartbeat:  heartbeat,
		Classifier: classifier,
		Hub:        hub,
		Timers:     scheduler,
		Helix:      helixClient,
	}
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(handlers)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

func startPprofIfEnabled() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

// dbAccess adapts the db package's plain functions to the single-method
// interfaces consumed across packages.
type dbAccess struct {
	db *sql.DB
}

func (a *dbAccess) ByTrustedChannel(ctx context.Context, channel string) (*db.User, error) {
	return db.UserByTrustedChannel(ctx, a.db, channel)
}

func (a *dbAccess) ByGSIToken(ctx context.Context, token string) (*db.User, error) {
	return db.UserByGSIToken(ctx, a.db, token)
}

func (a *dbAccess) SetGSIActive(ctx context.Context, userID int64, active bool) error {
	return db.SetGSIActive(ctx, a.db, userID, active)
}

func (a *dbAccess) SaveDotaGame(ctx context.Context, userID int64, win bool) error {
	return db.SaveDotaGame(ctx, a.db, userID, win)
}

func (a *dbAccess) PredictionTokens(ctx context.Context, userID int64) (string, string, error) {
	access, refresh, _, err := db.GetScopeToken(ctx, a.db, userID, server.ScopePredictions)
	return access, refresh, err
}

// helixChatters exposes chatter counts keyed by the broadcaster's Twitch id.
type helixChatters struct {
	hc *twitchapi.HelixClient
}

func (c *helixChatters) ChatterCount(ctx context.Context, twitchID string) (int, error) {
	return c.hc.GetChatterCount(ctx, twitchID, "")
}
