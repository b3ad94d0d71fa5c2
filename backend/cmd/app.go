package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/projhub-signaling/backend/auth"
	"github.com/adwski/projhub-signaling/backend/config"
	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/adwski/projhub-signaling/backend/registry"
	httpServer "github.com/adwski/projhub-signaling/backend/server/http"
	websocketServer "github.com/adwski/projhub-signaling/backend/server/websocket"
	"github.com/adwski/projhub-signaling/backend/service"
	store "github.com/adwski/projhub-signaling/backend/storage/memory"
	"github.com/adwski/projhub-signaling/backend/storage/sqlite"
	sw "github.com/adwski/projhub-signaling/backend/switch"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	messages, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if errC := messages.Close(); errC != nil {
			logger.Error().Err(errC).Msg("failed to close database")
		}
	}()
	if err = messages.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	switcher := sw.NewSwitch(&logger)
	chat := service.NewChat(service.ChatConfig{
		Registry:  registry.New(model.NamespaceChat),
		Directory: store.NewDirectory(),
		Switch:    switcher,
		Logger:    &logger,
	})
	presence := service.NewPresence(service.PresenceConfig{
		Registry:  registry.New(model.NamespaceVideo),
		Directory: store.NewDirectory(),
		Switch:    switcher,
		Notifier:  chat,
		Logger:    &logger,
	})

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		CallStatus:     presence,
		Messages:       messages,
		Verifier:       auth.NewVerifier(cfg.JWT),
		ListenAddr:     cfg.APIListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Chat:       chat,
		Video:      presence,
		ListenAddr: cfg.WSListenAddr,
		WireBuffer: cfg.WireBuffer,
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
