package backoffice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/circuitbreaker"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// fakeAdminAPI serves an in-memory store the way the admin API does.
func fakeAdminAPI(backing *store.MemoryStore) *httptest.Server {
	r := mux.NewRouter()

	r.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		orders, _ := backing.ListOrders(r.Context(), r.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "orders": orders, "count": len(orders)})
	}).Methods(http.MethodGet)

	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		order, err := backing.GetOrder(r.Context(), mux.Vars(r)["id"])
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Order not found"})
			return
		}
		writeJSON(w, http.StatusOK, order)
	}).Methods(http.MethodGet)

	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		var order models.Order
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		cur, err := backing.GetOrder(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeJSON(w, http.StatusNotFound, nil)
			return
		}
		if r.Header.Get(VersionHeader) != cur.Version().ETag() {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"message": "version mismatch"})
			return
		}
		if err := backing.SaveOrder(r.Context(), order, cur.Version()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, order)
	}).Methods(http.MethodPut)

	return httptest.NewServer(r)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	require.NoError(t, backing.CreateOrder(ctx, models.Order{
		ID:            "o1",
		Status:        models.OrderStatusPacked,
		StatusHistory: []models.StatusChange{{Status: models.OrderStatusPending}},
	}))
	srv := fakeAdminAPI(backing)
	defer srv.Close()

	logger := quietLogger()
	c := NewClient(srv.URL, circuitbreaker.NewManager(logger), logger)

	order, err := c.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPacked, order.Status)

	list, err := c.ListOrders(ctx, "packed")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	next := order.Clone()
	next.Status = models.OrderStatusShipped
	next.StatusHistory = append(next.StatusHistory, models.StatusChange{Status: models.OrderStatusShipped})
	require.NoError(t, c.SaveOrder(ctx, next, order.Version()))

	err = c.SaveOrder(ctx, next, order.Version())
	assert.ErrorIs(t, err, store.ErrStaleWrite)

	_, err = c.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClientBreakerIgnoresDomainAnswers(t *testing.T) {
	ctx := context.Background()
	srv := fakeAdminAPI(store.NewMemoryStore())
	defer srv.Close()

	logger := quietLogger()
	breakers := circuitbreaker.NewManager(logger)
	c := NewClient(srv.URL, breakers, logger)

	for i := 0; i < 10; i++ {
		_, err := c.GetOrder(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breakers.Get("backoffice").State())
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"message": "upstream down"})
	}))
	defer srv.Close()

	logger := quietLogger()
	breakers := circuitbreaker.NewManager(logger)
	c := NewClient(srv.URL, breakers, logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.ListOrders(ctx, "all")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.Code)
		assert.Equal(t, "upstream down", se.Message)
	}

	_, err := c.ListOrders(ctx, "all")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestStatusQuery(t *testing.T) {
	assert.Equal(t, "", statusQuery(""))
	assert.Equal(t, "", statusQuery("ALL"))
	assert.Equal(t, "?status=out-for-delivery", statusQuery(" out-for-delivery "))
}
