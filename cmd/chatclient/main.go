// Command chatclient is a terminal client for a chat room.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/session"
	"github.com/orchestra-mcp/chatsync/src/sessionstore"
	"github.com/orchestra-mcp/chatsync/src/transport"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ClientConfigFromEnv()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid client configuration")
	}

	endpoint := flag.String("endpoint", cfg.Endpoint, "chat server websocket endpoint")
	room := flag.String("room", "general", "room to join")
	name := flag.String("name", "", "display name")
	userID := flag.String("user", "", "user id")
	sessionID := flag.String("session", "", "resolve identity from this session id in Redis")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if !*verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}
	cfg.Endpoint = *endpoint

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity := types.Identity{ID: *userID, Name: *name}
	if *sessionID != "" {
		identity, err = resolveIdentity(ctx, *sessionID)
		if err != nil {
			logger.Fatal().Err(err).Str("session_id", *sessionID).Msg("resolve session")
		}
	}
	if identity.Name == "" {
		logger.Fatal().Msg("a -name or -session is required")
	}

	ctrl := session.New(transport.NewWSDialer(cfg), cfg, logger)
	defer ctrl.Deactivate()
	ctrl.Activate(*room, identity)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r := newRenderer(os.Stdout)
	r.render(ctrl.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Changes():
			r.render(ctrl.Snapshot())
		case line, ok := <-lines:
			if !ok || handleLine(ctrl, identity, line, os.Stderr) {
				return
			}
		}
	}
}

func resolveIdentity(ctx context.Context, sessionID string) (types.Identity, error) {
	redisCfg, err := config.RedisConfigFromEnv()
	if err != nil {
		return types.Identity{}, err
	}
	store, err := sessionstore.NewRedisStore(ctx, redisCfg)
	if err != nil {
		return types.Identity{}, err
	}
	defer store.Close()
	return store.Identity(ctx, sessionID)
}
