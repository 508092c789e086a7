// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/anteroom-dev/anteroom/internal/audit"
	"github.com/anteroom-dev/anteroom/internal/auth"
	"github.com/anteroom-dev/anteroom/internal/config"
	"github.com/anteroom-dev/anteroom/internal/database"
	"github.com/anteroom-dev/anteroom/internal/handlers"
	"github.com/anteroom-dev/anteroom/internal/middleware"
	"github.com/anteroom-dev/anteroom/internal/room"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.LogLevel)
	}

	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		err = auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
	} else {
		err = auth.Init()
	}
	if err != nil {
		log.Fatalf("session keys: %v", err)
	}
	auth.TokenTTL = cfg.TokenTTL

	ctx := context.Background()

	var configs room.ConfigStore
	if cfg.PostgresDSN != "" {
		pool, err := database.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		configs = database.NewRoomStore(pool)
		logger.Info("room configuration persistence enabled")
	} else {
		logger.Info("no ANTEROOM_POSTGRES_DSN set, rooms are ephemeral")
	}

	var trail *audit.Publisher
	if cfg.RedisAddr != "" {
		trail, err = audit.NewPublisher(ctx, audit.Options{
			Addr:  cfg.RedisAddr,
			DB:    cfg.RedisDB,
			Queue: cfg.AuditQueue,
			Log:   logrus.NewEntry(logger),
		})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		logger.Infof("admission trail enabled on queue %s", cfg.AuditQueue)
	}

	rooms := room.NewService(room.Config{
		ConferenceDomain: cfg.ConferenceDomain,
		LobbyDomain:      cfg.LobbyDomain,
		UserDomain:       cfg.Domain,
		Log:              logrus.NewEntry(logger),
		Configs:          configs,
	})

	srv := handlers.NewServer(rooms, trail, logger)

	mux := http.NewServeMux()

	// session endpoints
	mux.Handle("/session/guest", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GuestSessionHandler(srv),
	)))

	// room endpoints
	mux.Handle("/rooms/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.CreateRoomHandler(srv),
	)))
	mux.Handle("/rooms/list", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ListRoomsHandler(srv),
	)))

	// room websocket
	mux.Handle("/rooms/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RoomWSHandler(logger, srv),
	)))

	logger.Infof("Running on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
