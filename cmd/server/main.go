// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/lessonbox/internal/api/connect"
	"github.com/osa030/lessonbox/internal/app/progress"
	"github.com/osa030/lessonbox/internal/app/session"
	"github.com/osa030/lessonbox/internal/infra/config"
	"github.com/osa030/lessonbox/internal/infra/courseapi"
	"github.com/osa030/lessonbox/internal/infra/logger"
	"github.com/osa030/lessonbox/internal/infra/mpv"
)

var (
	app        = kingpin.New("lessonbox-server", "lessonbox lesson player daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run server (defer ensures cleanup runs on every return path)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic.
func run(cfg *config.Config) error {
	ctx := context.Background()

	apiClient, err := courseapi.New(ctx, courseapi.Config{
		BaseURL:      cfg.API.BaseURL,
		TokenURL:     cfg.API.TokenURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		RefreshToken: cfg.API.RefreshToken,
		AccessToken:  cfg.API.AccessToken,
		Timeout:      cfg.APITimeout(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create course API client")
	}

	playerConfig := mpv.Config{
		Path:           cfg.Player.Path,
		Args:           cfg.Player.Args,
		SocketDir:      cfg.Player.SocketDir,
		ConnectTimeout: cfg.ConnectTimeout(),
		CommandTimeout: cfg.CommandTimeout(),
	}

	sessionMgr, err := session.NewManager(session.Config{
		AutoHideDelay: cfg.AutoHideDelay(),
		Progress: progress.Config{
			Timeout:     cfg.ProgressTimeout(),
			MinInterval: cfg.ProgressMinInterval(),
		},
		Watermark: session.WatermarkConfig{
			Viewer:     cfg.Watermark.Viewer,
			Position:   cfg.Watermark.Position,
			Opacity:    cfg.Watermark.Opacity,
			DateFormat: cfg.Watermark.DateFormat,
		},
	}, session.Deps{
		Media: session.MediaFactoryFunc(func(ctx context.Context, src string) (session.Media, error) {
			player, err := mpv.Start(ctx, playerConfig, src)
			if err != nil {
				return nil, err
			}
			return player, nil
		}),
		Lessons: apiClient,
		Sink:    apiClient,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()

	playerService := apiconnect.NewPlayerService(sessionMgr)

	mux := http.NewServeMux()
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(
		playerService,
		connect.WithInterceptors(apiconnect.NewShellAuthInterceptor(cfg.Server.Token)),
	)
	mux.Handle(playerPath, playerHandler)

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to terminate active streams and the player
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}
