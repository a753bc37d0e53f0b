package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/monitor"
	"github.com/maltedev/size-stock-monitor/internal/stores"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrHistoryDisabled = errors.New("check log is not enabled")
)

// CheckHistory reads back the audit trail written by the monitor.
type CheckHistory interface {
	RecentChecks(ctx context.Context, productID string, limit int) ([]models.CheckRecord, error)
}

// Engine is the part of the polling engine the command surface controls.
type Engine interface {
	Start() bool
	Status() monitor.Status
}

// Service implements the add/list/remove commands on top of the catalog.
type Service struct {
	catalog  *catalog.Catalog
	registry *stores.Registry
	engine   Engine
	history  CheckHistory
	logger   *slog.Logger
}

func NewService(cat *catalog.Catalog, registry *stores.Registry, engine Engine, logger *slog.Logger) *Service {
	return &Service{
		catalog:  cat,
		registry: registry,
		engine:   engine,
		logger:   logger.With("component", "tracker"),
	}
}

// SetHistory enables ProductChecks.
func (s *Service) SetHistory(h CheckHistory) {
	s.history = h
}

// AddProduct starts tracking url in scope for the given sizes and makes sure the
// monitor is running. It returns the stored product and its 1-based position.
func (s *Service) AddProduct(ctx context.Context, scope, store, url string, sizes ...string) (models.Product, int, error) {
	st, err := models.ParseStore(store)
	if err != nil {
		return models.Product{}, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	adapter, err := s.registry.Lookup(st)
	if err != nil {
		return models.Product{}, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	url = strings.TrimSpace(url)
	if !stores.MatchesURL(adapter, url) {
		return models.Product{}, 0, fmt.Errorf("%w: %q is not an https %s product page", ErrInvalidInput, url, st.DisplayName())
	}

	p := models.Product{
		Store:       st,
		URL:         url,
		Sizes:       models.NewSizeSet(sizes...),
		Destination: strings.TrimSpace(scope),
	}
	if problems := p.Validate(); len(problems) > 0 {
		return models.Product{}, 0, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}

	stored, index, err := s.catalog.AddIndexed(p.Destination, p)
	if err != nil {
		return models.Product{}, 0, err
	}

	s.logger.Info("product added",
		"channel", stored.Destination,
		"store", stored.Store,
		"url", stored.URL,
		"sizes", stored.Sizes.String())

	if s.engine.Start() {
		s.logger.Debug("monitor started by add")
	}

	return stored, index, nil
}

func (s *Service) ListProducts(scope string) []models.Product {
	return s.catalog.List(strings.TrimSpace(scope))
}

// RemoveProduct removes the product at the 1-based index shown by ListProducts.
func (s *Service) RemoveProduct(scope string, index int) (models.Product, error) {
	removed, err := s.catalog.RemoveAt(strings.TrimSpace(scope), index)
	if err != nil {
		return models.Product{}, err
	}

	s.logger.Info("product removed", "channel", removed.Destination, "url", removed.URL)
	return removed, nil
}

// ProductChecks returns the newest recorded checks of the product at the 1-based index.
func (s *Service) ProductChecks(ctx context.Context, scope string, index, limit int) ([]models.CheckRecord, error) {
	p, err := s.catalog.At(strings.TrimSpace(scope), index)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.RecentChecks(ctx, p.ID, limit)
}

// StartMonitoring restarts an idle monitor, e.g. after a browser failure.
func (s *Service) StartMonitoring() bool {
	return s.engine.Start()
}

func (s *Service) Status() monitor.Status {
	return s.engine.Status()
}

// StoreInfo describes a supported retailer.
type StoreInfo struct {
	ID      models.Store `json:"id"`
	Name    string       `json:"name"`
	Domains []string     `json:"domains"`
}

func (s *Service) Stores() []StoreInfo {
	var out []StoreInfo
	for _, st := range s.registry.Stores() {
		adapter, err := s.registry.Lookup(st)
		if err != nil {
			continue
		}
		out = append(out, StoreInfo{ID: st, Name: st.DisplayName(), Domains: adapter.Domains()})
	}
	return out
}
