package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/treefix50/nowplaying/internal/broker"
	"github.com/treefix50/nowplaying/internal/config"
	"github.com/treefix50/nowplaying/internal/control"
	"github.com/treefix50/nowplaying/internal/feed"
	"github.com/treefix50/nowplaying/internal/metrics"
	"github.com/treefix50/nowplaying/internal/notify"
	"github.com/treefix50/nowplaying/internal/playback"
	"github.com/treefix50/nowplaying/internal/server"
	"github.com/treefix50/nowplaying/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := newLogger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := playback.NewStore()
	m := metrics.New()
	hub := notify.NewHub(store, cfg.Notify.QueueSize, m)
	defer hub.Close()

	feedOpts := []feed.Option{feed.WithMetrics(m), feed.WithLogger(log)}

	if cfg.State.DBPath != "" {
		db, err := storage.Open(cfg.State.DBPath, storage.Options{})
		if err != nil {
			return err
		}
		defer db.Close()

		dev, ok, err := db.LoadDevice()
		if err != nil {
			return err
		}
		if ok {
			store.Restore(dev.Volume, dev.ClientName)
			log.Info().
				Str("volume", dev.Volume).
				Str("client_name", dev.ClientName).
				Time("updated_at", dev.UpdatedAt).
				Msg("restored device state")
		}
		feedOpts = append(feedOpts, feed.WithDeviceSaver(db))
	}

	mq := broker.New(broker.Options{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  cfg.MQTT.ClientID,
		BaseTopic: cfg.MQTT.Topic,
	}, log)
	if err := mq.Connect(); err != nil {
		return err
	}
	defer mq.Close()

	sub := feed.New(cfg.MQTT.Topic, store, hub, feedOpts...)
	ctrl := control.New(cfg.MQTT.Topic, mq, m, log)

	srv := server.New(server.Options{
		Addr:               cfg.Addr(),
		CORS:               cfg.Server.CORS,
		KeepAlive:          cfg.Server.KeepAlive,
		ControlMinInterval: cfg.Server.ControlMinInterval,
		State:              store,
		Hub:                hub,
		Control:            ctrl,
		Metrics:            m,
		Logger:             log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sub.Run(gctx, mq.Messages())
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return srv.Close()
	})

	log.Info().
		Str("addr", cfg.Addr()).
		Str("topic", cfg.MQTT.Topic).
		Msg("nowplaying started")
	return g.Wait()
}
