package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"

	"github.com/maltedev/size-stock-monitor/internal/api"
	"github.com/maltedev/size-stock-monitor/internal/browser"
	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/database"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/monitor"
	"github.com/maltedev/size-stock-monitor/internal/notify"
	"github.com/maltedev/size-stock-monitor/internal/stores"
	"github.com/maltedev/size-stock-monitor/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	app := cli.App("stock-monitor", "Watch store product pages and alert when tracked sizes come back in stock")
	configPath := app.String(cli.StringOpt{
		Name:   "c config",
		Desc:   "Path to a config file (default: ./config.yaml if present)",
		EnvVar: "STOCKMON_CONFIG",
	})

	app.Command("serve", "Run the HTTP command surface and the polling engine", func(cmd *cli.Cmd) {
		cmd.Action = func() { exitOnError(serve(*configPath)) }
	})

	app.Command("check", "Check a single product page once and print the result", func(cmd *cli.Cmd) {
		cmd.Spec = "STORE URL SIZES..."
		store := cmd.StringArg("STORE", "", "Store id (zara, hm, uniqlo)")
		url := cmd.StringArg("URL", "", "Product page URL")
		sizes := cmd.StringsArg("SIZES", nil, "Sizes to look for")
		cmd.Action = func() { exitOnError(checkOnce(*configPath, *store, *url, *sizes)) }
	})

	app.Command("relay", "Deliver alerts from the Redis stream to Discord", func(cmd *cli.Cmd) {
		consumer := cmd.String(cli.StringOpt{
			Name:   "consumer",
			Value:  hostnameOr("relay-1"),
			Desc:   "Consumer name within the group",
			EnvVar: "STOCKMON_RELAY_CONSUMER",
		})
		cmd.Action = func() { exitOnError(relay(*configPath, *consumer)) }
	})

	app.Command("stores", "List supported stores", func(cmd *cli.Cmd) {
		cmd.Action = func() { exitOnError(listStores()) }
	})

	app.Action = func() { exitOnError(serve(*configPath)) }

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	slog.Error("command failed", "error", err)
	cli.Exit(1)
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	senders, closeSenders, err := newSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSenders()

	session := browser.New(browserOptions(cfg.Browser), logger)
	registry := stores.DefaultRegistry(cfg.Browser.WaitTimeout)
	cat := catalog.New()
	dispatcher := notify.NewDispatcher(logger, senders...)

	engine := monitor.New(monitorConfig(cfg.Monitor), cat, registry, session, dispatcher, logger)
	service := tracker.NewService(cat, registry, engine, logger)

	if cfg.Database.Enabled {
		db, err := database.New(ctx, databaseConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		checkLog := database.NewCheckLog(db)
		if err := checkLog.EnsureSchema(ctx); err != nil {
			return err
		}
		engine.SetRecorder(checkLog)
		service.SetHistory(checkLog)
		logger.Info("check log enabled", "database", cfg.Database.Name)
	}

	handlers := api.NewHandlers(service, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		engine.Stop()
		session.Close()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	engine.Stop()
	if err := session.Close(); err != nil {
		logger.Warn("failed to close browser session", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

type checkOutput struct {
	Store     models.Store   `json:"store"`
	URL       string         `json:"url"`
	Name      string         `json:"name"`
	Price     string         `json:"price,omitempty"`
	Requested models.SizeSet `json:"requested"`
	Available models.SizeSet `json:"available"`
	InStock   bool           `json:"in_stock"`
	CheckedAt time.Time      `json:"checked_at"`
	Error     string         `json:"error,omitempty"`
}

func checkOnce(configPath, storeID, url string, sizes []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	product, err := newCheckProduct(storeID, url, sizes)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := browser.New(browserOptions(cfg.Browser), logger)
	defer session.Close()

	engine := monitor.New(monitorConfig(cfg.Monitor), catalog.New(),
		stores.DefaultRegistry(cfg.Browser.WaitTimeout), session, notify.NewDispatcher(logger), logger)

	result, checkErr := engine.Check(ctx, product)

	out := checkOutput{
		Store:     product.Store,
		URL:       product.URL,
		Name:      result.Name,
		Price:     result.Price,
		Requested: product.Sizes,
		Available: result.AvailableSizes,
		InStock:   len(result.AvailableSizes) > 0,
		CheckedAt: time.Now(),
	}
	if out.Available == nil {
		out.Available = models.SizeSet{}
	}
	if checkErr != nil {
		out.Error = checkErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return checkErr
}

func newCheckProduct(storeID, url string, sizes []string) (models.Product, error) {
	store, err := models.ParseStore(storeID)
	if err != nil {
		return models.Product{}, err
	}

	adapter, err := stores.DefaultRegistry(0).Lookup(store)
	if err != nil {
		return models.Product{}, err
	}

	url = strings.TrimSpace(url)
	if !stores.MatchesURL(adapter, url) {
		return models.Product{}, fmt.Errorf("%q is not an https %s product page", url, store.DisplayName())
	}

	p := models.Product{Store: store, URL: url, Sizes: models.NewSizeSet(sizes...), Destination: "cli"}
	if problems := p.Validate(); len(problems) > 0 {
		return models.Product{}, errors.New(strings.Join(problems, "; "))
	}
	return p, nil
}

func relay(configPath, consumer string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if cfg.Notify.Discord.Token == "" {
		return errors.New("notify.discord.token is required to relay alerts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	r := notify.NewStreamRelay(client, notify.NewDiscordSender(discordConfig(cfg.Notify.Discord)), notify.RelayConfig{
		Stream:   cfg.Notify.Stream.Name,
		Consumer: consumer,
	}, logger)

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func listStores() error {
	registry := stores.DefaultRegistry(0)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, s := range registry.Stores() {
		adapter, err := registry.Lookup(s)
		if err != nil {
			return err
		}
		if err := enc.Encode(map[string]interface{}{
			"id":      s,
			"name":    s.DisplayName(),
			"domains": adapter.Domains(),
		}); err != nil {
			return err
		}
	}
	return nil
}
