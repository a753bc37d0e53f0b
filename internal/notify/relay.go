package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamReader interface for Redis consumer-group operations (for testing)
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type RelayConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Batch    int64
}

// StreamRelay consumes alerts published by StreamSender and delivers them with
// another Sender, so the monitor and the chat bot can run as separate processes.
type StreamRelay struct {
	redis  StreamReader
	sender Sender
	cfg    RelayConfig
	logger *slog.Logger
}

func NewStreamRelay(client StreamReader, sender Sender, cfg RelayConfig, logger *slog.Logger) *StreamRelay {
	if cfg.Stream == "" {
		cfg.Stream = DefaultAlertStream
	}
	if cfg.Group == "" {
		cfg.Group = "stock-alert-relay"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "relay-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}

	return &StreamRelay{
		redis:  client,
		sender: sender,
		cfg:    cfg,
		logger: logger.With("component", "alert_relay"),
	}
}

// Run reads the stream until ctx is cancelled.
func (r *StreamRelay) Run(ctx context.Context) error {
	if err := r.redis.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	r.logger.Info("starting relay", "stream", r.cfg.Stream, "group", r.cfg.Group, "sender", r.sender.Name())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		default:
		}

		streams, err := r.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.Stream, ">"},
			Count:    r.cfg.Batch,
			Block:    r.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		r.process(ctx, streams)
	}
}

func (r *StreamRelay) process(ctx context.Context, streams []redis.XStream) {
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := r.handle(ctx, msg); err != nil {
				// left pending for redelivery
				r.logger.Error("failed to relay alert", "id", msg.ID, "error", err)
				continue
			}
			if err := r.redis.XAck(ctx, r.cfg.Stream, r.cfg.Group, msg.ID).Err(); err != nil {
				r.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
			}
		}
	}
}

func (r *StreamRelay) handle(ctx context.Context, msg redis.XMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in message")
	}

	var alert streamAlert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return fmt.Errorf("failed to parse alert: %w", err)
	}

	var image *Attachment
	if alert.ImageBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(alert.ImageBase64)
		if err != nil {
			r.logger.Warn("dropping undecodable image", "id", msg.ID, "error", err)
		} else {
			image = &Attachment{Name: alert.ImageName, Data: raw}
		}
	}

	if err := r.sender.Send(ctx, alert.Destination, alert.Message, image); err != nil {
		return err
	}

	r.logger.Info("alert relayed", "id", msg.ID, "destination", alert.Destination)
	return nil
}
