package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultAlertStream = "stream:stock_alerts"

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamSender publishes alerts to a Redis stream for an external chat front end.
type StreamSender struct {
	redis  RedisClient
	stream string
	maxLen int64
	now    func() time.Time
}

func NewStreamSender(client RedisClient, stream string, maxLen int64) *StreamSender {
	if stream == "" {
		stream = DefaultAlertStream
	}
	return &StreamSender{
		redis:  client,
		stream: stream,
		maxLen: maxLen,
		now:    time.Now,
	}
}

func (s *StreamSender) Name() string {
	return "redis-stream"
}

// Resolve accepts any non-empty destination; the consumer owns channel lookup.
func (s *StreamSender) Resolve(ctx context.Context, destination string) error {
	if destination == "" {
		return ErrUnresolvableDestination
	}
	return nil
}

type streamAlert struct {
	Destination string  `json:"destination"`
	Message     Message `json:"message"`
	ImageName   string  `json:"image_name,omitempty"`
	ImageBase64 string  `json:"image_base64,omitempty"`
}

func (s *StreamSender) Send(ctx context.Context, destination string, msg Message, image *Attachment) error {
	alert := streamAlert{Destination: destination, Message: msg}
	if image != nil {
		alert.ImageName = image.Name
		alert.ImageBase64 = base64.StdEncoding.EncodeToString(image.Data)
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data":        string(data),
			"type":        "STOCK_ALERT",
			"destination": destination,
			"timestamp":   fmt.Sprintf("%d", s.now().UnixNano()),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if _, err := s.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("%w: failed to publish to redis: %v", ErrDelivery, err)
	}
	return nil
}
