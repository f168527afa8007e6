package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/config"
	"pricewatch/extractor"
	"pricewatch/history"
	"pricewatch/httputil"
	"pricewatch/models"
	"pricewatch/monitor"
	"pricewatch/scheduler"
	"pricewatch/services"
	"pricewatch/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// shop serves an Amazon-like product page whose price can be changed.
type shop struct {
	mu    sync.Mutex
	price string
}

func (s *shop) setPrice(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
}

func (s *shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path == "/gone" {
		http.Error(w, "gone", http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, `<html><body><span class="a-price-whole">%s</span></body></html>`, s.price)
}

type testEnv struct {
	router http.Handler
	shop   *shop
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := history.NewLedger(store, 10*time.Minute)
	fetcher := httputil.NewFetcher(config.FetchConfig{Timeout: 5 * time.Second, UserAgent: "pricewatch-test"})
	mon := monitor.New(store, fetcher, extractor.Default(), ledger, monitor.Options{AlertThreshold: 20, Concurrency: 2})
	ops, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ops.Close() })
	sched := scheduler.New(config.SchedulerConfig{Interval: time.Hour}, mon, ops)

	sh := &shop{price: "80,000"}
	srv := httptest.NewServer(sh)
	t.Cleanup(srv.Close)

	h := NewHandler(services.NewProductService(store, ledger), services.NewAlertService(store), sched)
	h.SetRuns(ops)
	return &testEnv{router: h.Router(), shop: sh, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createProduct(t *testing.T, name, path string, price float64) models.Product {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/products", map[string]any{
		"name":         name,
		"sourceUrls":   map[string]string{"amazon": e.srv.URL + path},
		"sourcePrices": map[string]float64{"amazon": price},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Product](t, w)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "OK", body["status"])
	assert.EqualValues(t, 0, body["products"])
	assert.EqualValues(t, 0, body["alerts"])
	assert.NotContains(t, body, "lastRun")
}

func TestProductLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProduct(t, "Laptop", "/laptop", 80000)

	w := env.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Product](t, w), 1)

	w = env.do(t, http.MethodPut, "/api/products/"+p.ID, map[string]any{"name": "Gaming Laptop"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Gaming Laptop", decode[models.Product](t, w).Name)

	w = env.do(t, http.MethodGet, "/api/products/"+p.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.HistoryEntry](t, w), 1)

	w = env.do(t, http.MethodDelete, "/api/products/"+p.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/products/"+p.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestCreateProduct_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/products", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/products", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.createProduct(t, "A", "/same", 100)
	w = env.do(t, http.MethodPost, "/api/products", map[string]any{
		"name":       "B",
		"sourceUrls": map[string]string{"amazon": env.srv.URL + "/same"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckPrice(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProduct(t, "Phone", "/phone", 80000)

	env.shop.setPrice("60,000")
	w := env.do(t, http.MethodPost, "/api/products/"+p.ID+"/check-price", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[monitor.Result](t, w)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, -25.0, res.Alerts[0].PercentChange)
	price, _ := res.Product.Price(models.SourceAmazon)
	assert.Equal(t, 60000.0, price)

	w = env.do(t, http.MethodGet, "/api/alerts", nil)
	alerts := decode[[]models.Alert](t, w)
	require.Len(t, alerts, 1)

	w = env.do(t, http.MethodDelete, "/api/alerts/"+alerts[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/alerts/"+alerts[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/products/nope/check-price", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckAllPrices(t *testing.T) {
	env := newTestEnv(t)
	env.createProduct(t, "A", "/a", 100000)
	env.createProduct(t, "B", "/gone", 100000)
	env.createProduct(t, "C", "/c", 100000)

	env.shop.setPrice("70,000")
	w := env.do(t, http.MethodPost, "/api/check-all-prices", nil)
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[monitor.SweepResult](t, w)
	assert.Equal(t, 3, res.Checked)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, "A", res.Alerts[0].ProductName)
	assert.Equal(t, "C", res.Alerts[1].ProductName)
}

func TestHealth_ReportsLastRun(t *testing.T) {
	env := newTestEnv(t)
	env.createProduct(t, "A", "/a", 100)

	w := env.do(t, http.MethodPost, "/api/check-all-prices", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		LastRun *models.CheckRun `json:"lastRun"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.LastRun)
	assert.Equal(t, models.TriggerManual, body.LastRun.Trigger)
	assert.Equal(t, models.RunStatusCompleted, body.LastRun.Status)
	assert.Equal(t, 1, body.LastRun.ProductsChecked)
	assert.NotNil(t, body.LastRun.FinishedAt)
}
