package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/config"
	"github.com/maltedev/size-stock-monitor/internal/database"
	"github.com/maltedev/size-stock-monitor/internal/monitor"
	"github.com/maltedev/size-stock-monitor/internal/notify"
	"github.com/maltedev/size-stock-monitor/internal/ratelimit"
)

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func browserOptions(cfg config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout
	opts.ViewportWidth = cfg.ViewportWidth
	opts.ViewportHeight = cfg.ViewportHeight
	opts.Locale = cfg.Locale
	opts.TimezoneID = cfg.TimezoneID
	opts.ProxyServer = cfg.ProxyServer
	opts.NavigationDelay = ratelimit.NewJitter(cfg.NavigationDelayMin, cfg.NavigationDelayMax)
	opts.ScreenshotDir = cfg.ScreenshotDir
	opts.ScreenshotMaxWidth = cfg.ScreenshotMaxWidth
	if len(cfg.UserAgents) > 0 {
		opts.UserAgents = cfg.UserAgents
	}
	return opts
}

func monitorConfig(cfg config.MonitorConfig) monitor.Config {
	return monitor.Config{
		ProductDelay:     cfg.ProductDelay(),
		CycleDelay:       cfg.CycleDelay(),
		CheckTimeout:     cfg.CheckTimeout,
		ReconnectOnFatal: cfg.ReconnectOnFatal,
		ReconnectDelay:   cfg.ReconnectDelay,
	}
}

func discordConfig(cfg config.DiscordConfig) notify.DiscordConfig {
	return notify.DiscordConfig{
		Token:             cfg.Token,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

func databaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Name,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.MaxConns,
	}
}

func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newSenders builds the configured delivery backends. The returned closer releases
// the redis connection when the stream backend is enabled.
func newSenders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]notify.Sender, func(), error) {
	var senders []notify.Sender
	closer := func() {}

	if !cfg.HasNotifier() {
		logger.Warn("no notifier configured, alerts will only be logged")
		return nil, closer, nil
	}
	if deliversTwice(cfg) {
		logger.Warn("discord and stream delivery are both enabled; a running relay will post every alert to discord twice",
			"stream", cfg.Notify.Stream.Name)
	}

	if cfg.Notify.Discord.Token != "" {
		senders = append(senders, notify.NewDiscordSender(discordConfig(cfg.Notify.Discord)))
	}

	if cfg.Notify.Stream.Enabled {
		client, err := newRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, closer, err
		}
		closer = func() { client.Close() }
		senders = append(senders, notify.NewStreamSender(client, cfg.Notify.Stream.Name, cfg.Notify.Stream.MaxLen))
	}

	return senders, closer, nil
}

// deliversTwice reports whether alerts go to discord directly and through the stream,
// which a relay process forwards to discord again.
func deliversTwice(cfg *config.Config) bool {
	return cfg.Notify.Discord.Token != "" && cfg.Notify.Stream.Enabled
}
