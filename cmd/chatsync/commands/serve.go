package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/config"
	"github.com/chatsync/chatsync/internal/logging"
	"github.com/chatsync/chatsync/internal/provider"
	"github.com/chatsync/chatsync/internal/server"
	"github.com/chatsync/chatsync/internal/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatsync server",
	Long: `Start the chatsync server: REST CRUD, the websocket sync endpoint
and the SSE event mirror on one address.

Without an OPENAI_API_KEY the server falls back to a scripted reply
provider, so local development works offline.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Pretty: logPretty || cfg.LogPretty,
	})

	if cfg.JWTSecret == "" {
		logging.Warn().Msg("no jwtSecret configured, using an insecure development secret")
		cfg.JWTSecret = "chatsync-dev-secret"
	}

	chatSvc := chat.NewService(storage.New(cfg.DataDir))

	streamer := pickStreamer(cmd.Context(), cfg)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = cfg.Addr
	serverConfig.JWTSecret = cfg.JWTSecret

	srv := server.New(serverConfig, chatSvc, streamer)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pickStreamer returns the OpenAI streamer when credentials exist,
// otherwise the scripted fallback.
func pickStreamer(ctx context.Context, cfg *config.Config) provider.Streamer {
	if cfg.Provider.APIKey == "" {
		logging.Warn().Msg("no provider API key, using scripted replies")
		return &provider.ScriptStreamer{
			Fragments: []string{"This is a scripted reply: ", "no completion provider ", "is configured."},
		}
	}

	streamer, err := provider.NewOpenAIStreamer(ctx, &provider.OpenAIConfig{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
	})
	if err != nil {
		logging.Warn().Err(err).Msg("provider init failed, using scripted replies")
		return &provider.ScriptStreamer{
			Fragments: []string{"Provider initialization failed."},
		}
	}

	logging.Info().Str("model", cfg.Provider.Model).Msg("completion provider ready")
	return streamer
}
