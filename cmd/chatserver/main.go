// Command chatserver runs the reference room chat server.
package main

import (
	"context"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/providers"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file, using process environment")
	}

	cfg, err := config.ServerConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server configuration")
	}
	redisCfg, err := config.RedisConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid redis configuration")
	}

	chat := providers.NewChatServer(cfg, logger).WithRedis(redisCfg)
	if err := chat.Activate(); err != nil {
		logger.Fatal().Err(err).Msg("activate chat server")
	}

	srv := &fasthttp.Server{
		Handler:      chat.Handler(),
		Name:         "chatsync/" + providers.Version,
		ReadTimeout:  cfg.HTTPReadTimeout(),
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(cfg.Addr); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return srv.ShutdownWithContext(ctx)
			},
			"chat": func(context.Context) error {
				return chat.Deactivate()
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("chat server exited")
	os.Exit(exitCode)
}
