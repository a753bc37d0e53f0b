package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultDiscordAPI = "https://discord.com/api/v10"

type DiscordConfig struct {
	Token   string
	BaseURL string
	// RequestsPerSecond bounds outbound API calls; Discord allows ~50/s per bot globally.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// DiscordSender posts alerts as embeds through the Discord bot REST API.
type DiscordSender struct {
	httpClient  *http.Client
	token       string
	baseURL     string
	rateLimiter *rate.Limiter

	mu       sync.RWMutex
	resolved map[string]bool
}

func NewDiscordSender(cfg DiscordConfig) *DiscordSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDiscordAPI
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &DiscordSender{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		token:       cfg.Token,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		resolved:    make(map[string]bool),
	}
}

func (d *DiscordSender) Name() string {
	return "discord"
}

// Resolve checks that the bot can see the channel. Known channels are cached.
func (d *DiscordSender) Resolve(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrUnresolvableDestination
	}

	d.mu.RLock()
	ok := d.resolved[channelID]
	d.mu.RUnlock()
	if ok {
		return nil
	}

	resp, err := d.do(ctx, http.MethodGet, "/channels/"+channelID, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		d.mu.Lock()
		d.resolved[channelID] = true
		d.mu.Unlock()
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: channel %s (status %d)", ErrUnresolvableDestination, channelID, resp.StatusCode)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord api error: status %d, body: %s", resp.StatusCode, string(body))
	}
}

type discordEmbed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Image       *struct {
		URL string `json:"url"`
	} `json:"image,omitempty"`
}

type discordAttachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type discordMessage struct {
	Embeds      []discordEmbed      `json:"embeds"`
	Attachments []discordAttachment `json:"attachments,omitempty"`
}

func (d *DiscordSender) Send(ctx context.Context, channelID string, msg Message, image *Attachment) error {
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       msg.Color,
		Fields:      msg.Fields,
	}
	payload := discordMessage{Embeds: []discordEmbed{embed}}

	var (
		body        io.Reader
		contentType string
	)

	if image == nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	} else {
		payload.Embeds[0].Image = &struct {
			URL string `json:"url"`
		}{URL: "attachment://" + image.Name}
		payload.Attachments = []discordAttachment{{ID: 0, Filename: image.Name}}

		buf, ct, err := multipartMessage(payload, image)
		if err != nil {
			return err
		}
		body, contentType = buf, ct
	}

	resp, err := d.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d, body: %s", ErrDelivery, resp.StatusCode, string(respBody))
	}
	return nil
}

func multipartMessage(payload discordMessage, image *Attachment) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := w.WriteField("payload_json", string(data)); err != nil {
		return nil, "", fmt.Errorf("failed to write payload: %w", err)
	}

	part, err := w.CreateFormFile("files[0]", image.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

func (d *DiscordSender) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if err := d.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("User-Agent", "DiscordBot (size-stock-monitor, 1.0)")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return resp, nil
}
