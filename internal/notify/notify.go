// Package notify renders stock alerts and delivers them to chat destinations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/size-stock-monitor/internal/models"
)

var (
	ErrDelivery                = errors.New("failed to deliver notification")
	ErrUnresolvableDestination = errors.New("destination cannot be resolved")
)

const (
	AlertTitle      = "Stock Alert!"
	AlertColor      = 0x2ecc71
	TimestampFormat = "2006-01-02 15:04:05"
)

// Alert is one "sizes are in stock" event for a tracked product.
type Alert struct {
	ID             string
	Product        models.Product
	AvailableSizes models.SizeSet
	ScreenshotPath string
	CreatedAt      time.Time
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is the backend-neutral rendering of an Alert.
type Message struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
}

// Attachment is an optional image sent along with a Message.
type Attachment struct {
	Name string
	Data []byte
}

// Format renders the alert. Price and Last Checked are only present when known.
func Format(a Alert) Message {
	p := a.Product
	msg := Message{
		Title:       AlertTitle,
		Description: fmt.Sprintf("%s is available in sizes: %s", p.DisplayName(), a.AvailableSizes),
		URL:         p.URL,
		Color:       AlertColor,
	}

	if p.Price != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Price", Value: p.Price})
	}
	if p.LastCheckedAt != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Last Checked", Value: p.LastCheckedAt.Format(TimestampFormat)})
	}
	msg.Fields = append(msg.Fields, Field{Name: "Product Link", Value: p.URL})

	return msg
}

// Sender delivers rendered messages to one kind of destination.
type Sender interface {
	Name() string
	Resolve(ctx context.Context, destination string) error
	Send(ctx context.Context, destination string, msg Message, image *Attachment) error
}

// Dispatcher fans an alert out to every configured sender. Delivery problems are
// logged and never returned to the caller.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
	now     func() time.Time
	remove  func(string) error
}

func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  logger.With("component", "notifier"),
		now:     time.Now,
		remove:  os.Remove,
	}
}

// Resolve succeeds when at least one sender can deliver to destination.
// Without senders every destination is accepted, and alerts only reach the log.
func (d *Dispatcher) Resolve(ctx context.Context, destination string) error {
	if len(d.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range d.senders {
		err := s.Resolve(ctx, destination)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return fmt.Errorf("%w: %s: %w", ErrUnresolvableDestination, destination, errors.Join(errs...))
}

// Notify formats and sends the alert, then removes its screenshot file.
func (d *Dispatcher) Notify(ctx context.Context, alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = d.now()
	}
	defer d.cleanup(alert.ScreenshotPath)

	msg := Format(alert)
	image := d.loadImage(alert.ScreenshotPath)

	d.logger.Info("stock alert",
		"alert_id", alert.ID,
		"channel", alert.Product.Destination,
		"url", alert.Product.URL,
		"sizes", alert.AvailableSizes.String(),
		"screenshot", image != nil)

	for _, s := range d.senders {
		if err := s.Send(ctx, alert.Product.Destination, msg, image); err != nil {
			d.logger.Error("failed to send notification",
				"alert_id", alert.ID,
				"sender", s.Name(),
				"channel", alert.Product.Destination,
				"error", err)
			continue
		}
		d.logger.Debug("notification sent", "alert_id", alert.ID, "sender", s.Name())
	}
}

func (d *Dispatcher) loadImage(path string) *Attachment {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn("screenshot unreadable, sending without image", "path", path, "error", err)
		return nil
	}
	return &Attachment{Name: filepath.Base(path), Data: data}
}

func (d *Dispatcher) cleanup(path string) {
	if path == "" {
		return
	}
	if err := d.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Debug("failed to remove screenshot", "path", path, "error", err)
	}
}
