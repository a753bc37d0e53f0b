package tracker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/size-stock-monitor/internal/catalog"
	"github.com/maltedev/size-stock-monitor/internal/models"
	"github.com/maltedev/size-stock-monitor/internal/monitor"
	"github.com/maltedev/size-stock-monitor/internal/stores"
)

// MockEngine is a mock for Engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockEngine) Status() monitor.Status {
	args := m.Called()
	return args.Get(0).(monitor.Status)
}

// MockHistory is a mock for CheckHistory
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) RecentChecks(ctx context.Context, productID string, limit int) ([]models.CheckRecord, error) {
	args := m.Called(ctx, productID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CheckRecord), args.Error(1)
}

func newService(engine Engine) (*Service, *catalog.Catalog) {
	cat := catalog.New()
	return NewService(cat, stores.DefaultRegistry(time.Second), engine, slog.Default()), cat
}

func TestService_AddProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes sizes and starts the monitor", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Start").Return(true).Once()
		svc, cat := newService(engine)

		p, index, err := svc.AddProduct(ctx, "chan-1", "Zara", "https://www.zara.com/de/en/coat-p1.html", "s", "M", "m")
		require.NoError(t, err)
		assert.Equal(t, 1, index)

		assert.Equal(t, models.StoreZara, p.Store)
		assert.Equal(t, models.SizeSet{"S", "M"}, p.Sizes)
		assert.Equal(t, "chan-1", p.Destination)
		assert.Len(t, cat.List("chan-1"), 1)
		engine.AssertExpectations(t)
	})

	t.Run("second add while running", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Start").Return(true).Once()
		engine.On("Start").Return(false).Once()
		svc, _ := newService(engine)

		_, _, err := svc.AddProduct(ctx, "chan-1", "hm", "https://www2.hm.com/en_gb/productpage.1.html", "L")
		require.NoError(t, err)
		_, index, err := svc.AddProduct(ctx, "chan-1", "H&M", "https://www2.hm.com/en_gb/productpage.2.html", "L")
		require.NoError(t, err)
		assert.Equal(t, 2, index)

		engine.AssertNumberOfCalls(t, "Start", 2)
	})

	tests := []struct {
		name  string
		scope string
		store string
		url   string
		sizes []string
	}{
		{"unknown store", "chan", "gap", "https://www.gap.com/p/1", []string{"M"}},
		{"wrong domain", "chan", "zara", "https://www.hm.com/p/1", []string{"M"}},
		{"plain http", "chan", "zara", "http://www.zara.com/p/1", []string{"M"}},
		{"no sizes", "chan", "zara", "https://www.zara.com/p/1", []string{" ", ""}},
		{"no scope", " ", "zara", "https://www.zara.com/p/1", []string{"M"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			svc, cat := newService(engine)

			_, _, err := svc.AddProduct(ctx, tt.scope, tt.store, tt.url, tt.sizes...)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.False(t, cat.HasAny())
			engine.AssertNotCalled(t, "Start")
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Start").Return(true)
		svc, _ := newService(engine)

		_, _, err := svc.AddProduct(ctx, "chan", "zara", "https://www.zara.com/p/1", "M")
		require.NoError(t, err)
		_, _, err = svc.AddProduct(ctx, "chan", "zara", "https://www.zara.com/p/1", "L")
		assert.ErrorIs(t, err, catalog.ErrDuplicateProduct)
	})
}

func TestService_RemoveProduct(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Start").Return(false)
	svc, _ := newService(engine)
	ctx := context.Background()

	_, _, err := svc.AddProduct(ctx, "chan", "zara", "https://www.zara.com/p/1", "M")
	require.NoError(t, err)
	_, _, err = svc.AddProduct(ctx, "chan", "uniqlo", "https://www.uniqlo.com/de/en/products/E1", "L")
	require.NoError(t, err)

	_, err = svc.RemoveProduct("chan", 0)
	assert.ErrorIs(t, err, catalog.ErrIndexOutOfRange)
	_, err = svc.RemoveProduct("chan", 3)
	assert.ErrorIs(t, err, catalog.ErrIndexOutOfRange)
	assert.Len(t, svc.ListProducts("chan"), 2)

	removed, err := svc.RemoveProduct("chan", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StoreZara, removed.Store)

	list := svc.ListProducts("chan")
	require.Len(t, list, 1)
	assert.Equal(t, models.StoreUniqlo, list[0].Store)
}

func TestService_StatusAndStores(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Status").Return(monitor.Status{State: monitor.StateIdle, Products: 0})
	engine.On("Start").Return(false)
	svc, _ := newService(engine)

	assert.Equal(t, monitor.StateIdle, svc.Status().State)
	assert.False(t, svc.StartMonitoring())

	infos := svc.Stores()
	require.Len(t, infos, 3)
	assert.Equal(t, models.StoreHM, infos[0].ID)
	assert.Equal(t, "H&M", infos[0].Name)
	assert.Contains(t, infos[2].Domains, "zara.com")
}

func TestService_ProductChecks(t *testing.T) {
	ctx := context.Background()
	engine := new(MockEngine)
	engine.On("Start").Return(false)
	svc, _ := newService(engine)

	p, _, err := svc.AddProduct(ctx, "chan", "zara", "https://www.zara.com/p/1", "M")
	require.NoError(t, err)

	_, err = svc.ProductChecks(ctx, "chan", 1, 5)
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	history := new(MockHistory)
	history.On("RecentChecks", ctx, p.ID, 5).Return([]models.CheckRecord{
		{ProductID: p.ID, AvailableSizes: models.SizeSet{"M"}},
	}, nil).Once()
	svc.SetHistory(history)

	records, err := svc.ProductChecks(ctx, "chan", 1, 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.SizeSet{"M"}, records[0].AvailableSizes)

	_, err = svc.ProductChecks(ctx, "chan", 2, 5)
	assert.ErrorIs(t, err, catalog.ErrIndexOutOfRange)
	history.AssertExpectations(t)
}
