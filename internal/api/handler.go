// Package api exposes the fulfillment service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/circuitbreaker"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/fulfillment"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// maxBodyBytes bounds request bodies; item lists are the largest payload.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc      *fulfillment.Service
	breakers *circuitbreaker.Manager
	ws       http.HandlerFunc
	origins  []string
	logger   *logrus.Logger
}

func NewHandler(svc *fulfillment.Service, breakers *circuitbreaker.Manager, logger *logrus.Logger) *Handler {
	return &Handler{svc: svc, breakers: breakers, logger: logger}
}

// SetAllowedOrigins restricts cross-origin callers. Nil admits every origin.
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.origins = origins
}

// SetWebSocketHandler mounts the live update stream at /ws.
func (h *Handler) SetWebSocketHandler(ws http.HandlerFunc) {
	h.ws = ws
}

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/status/catalog", h.StatusCatalog).Methods(http.MethodGet)
	router.HandleFunc("/circuit-breakers/{name}/reset", h.ResetBreaker).Methods(http.MethodPost)

	router.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	router.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}/status-options", h.StatusOptions).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}/status/check", h.CheckTransition).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/status", h.UpdateOrderStatus).Methods(http.MethodPut)
	router.HandleFunc("/orders/{id}/advance", h.AdvanceOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/items", h.UpdateItems).Methods(http.MethodPut)
	router.HandleFunc("/orders/{id}/details", h.UpdateDetails).Methods(http.MethodPatch)

	router.HandleFunc("/assignments", h.ListAssignments).Methods(http.MethodGet)
	router.HandleFunc("/assignments", h.CreateAssignment).Methods(http.MethodPost)
	router.HandleFunc("/assignments/{id}", h.GetAssignment).Methods(http.MethodGet)
	router.HandleFunc("/assignments/{id}/status", h.UpdateAssignmentStatus).Methods(http.MethodPut)
	router.HandleFunc("/assignments/{id}/services/{serviceId}/complete", h.CompleteService).Methods(http.MethodPost)
	router.HandleFunc("/assignments/{id}/cancel/send-otp", h.RequestCancellation).Methods(http.MethodPost)
	router.HandleFunc("/assignments/{id}/cancel/verify-otp", h.VerifyCancellation).Methods(http.MethodPost)
	router.HandleFunc("/assignments/{id}/cancel", h.CancellationStatus).Methods(http.MethodGet)
	router.HandleFunc("/assignments/{id}/cancel", h.AbandonCancellation).Methods(http.MethodDelete)

	router.HandleFunc("/inventory", h.Inventory).Methods(http.MethodGet)
	router.HandleFunc("/inventory/classify", h.Classify).Methods(http.MethodPost)
	router.HandleFunc("/inventory/{id}", h.PutStock).Methods(http.MethodPut)

	router.HandleFunc("/audit", h.Audit).Methods(http.MethodGet)

	if h.ws != nil {
		router.HandleFunc("/ws", h.ws)
	}

	// Preflight requests need a matching route for the middleware to run.
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	router.Use(loggingMiddleware(h.logger))
	router.Use(corsMiddleware(h.origins))
	return router
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{
		"status":  "healthy",
		"service": "fulfillment-service",
	}
	if h.breakers != nil {
		body["circuit_breakers"] = h.breakers.Snapshot()
	}

	code := http.StatusOK
	if err := h.svc.Ping(ctx); err != nil {
		code = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["error"] = "store unavailable"
	} else if h.breakers != nil && h.breakers.AnyOpen() {
		body["status"] = "degraded"
	}
	h.respondWithJSON(w, code, body)
}

func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if h.breakers == nil || !h.breakers.Reset(name) {
		h.respondWithError(w, http.StatusNotFound, "Circuit breaker not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Circuit breaker reset",
	})
}

func (h *Handler) StatusCatalog(w http.ResponseWriter, r *http.Request) {
	orders := make([]models.StatusInfo, 0, len(models.OrderStatuses))
	for _, s := range models.OrderStatuses {
		orders = append(orders, s.Info())
	}
	assignments := make([]models.StatusInfo, 0, len(models.AssignmentStatuses))
	for _, s := range models.AssignmentStatuses {
		assignments = append(assignments, s.Info())
	}
	payments := make([]models.StatusInfo, 0, len(models.PaymentStatuses))
	for _, s := range models.PaymentStatuses {
		payments = append(payments, s.Info())
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"order_statuses":      orders,
		"assignment_statuses": assignments,
		"payment_statuses":    payments,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in fulfillment.NewOrder
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.svc.CreateOrder(r.Context(), in)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"message":  "Order created successfully",
		"order":    res.Order,
		"warnings": res.Warnings,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", order.Version().ETag())
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) StatusOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.svc.StatusOptions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, opts)
}

type checkRequest struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number"`
}

func (h *Handler) CheckTransition(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	check, err := h.svc.CheckTransition(r.Context(), mux.Vars(r)["id"], req.Status, lifecycle.Fields{TrackingNumber: req.TrackingNumber})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, check)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.expectedVersion(w, r, &req.Expected) {
		return
	}
	res, err := h.svc.TransitionOrder(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithTransition(w, res)
}

func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.TransitionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if !h.expectedVersion(w, r, &req.Expected) {
		return
	}
	res, err := h.svc.AdvanceOrder(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithTransition(w, res)
}

func (h *Handler) respondWithTransition(w http.ResponseWriter, res fulfillment.TransitionResult) {
	message := "Order status updated"
	if !res.Changed {
		message = "Order already has this status"
	}
	w.Header().Set("ETag", res.Order.Version().ETag())
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"changed": res.Changed,
		"message": message,
		"order":   res.Order,
	})
}

func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	var update fulfillment.ItemsUpdate
	if !h.decode(w, r, &update) {
		return
	}
	if !h.expectedVersion(w, r, &update.Expected) {
		return
	}
	res, err := h.svc.UpdateItems(r.Context(), mux.Vars(r)["id"], update)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", res.Order.Version().ETag())
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"order":    res.Order,
		"warnings": res.Warnings,
	})
}

func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	var update fulfillment.DetailsUpdate
	if !h.decode(w, r, &update) {
		return
	}
	if !h.expectedVersion(w, r, &update.Expected) {
		return
	}
	order, err := h.svc.UpdateDetails(r.Context(), mux.Vars(r)["id"], update)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", order.Version().ETag())
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Message: "Order details updated", Order: &order})
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAssignments(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"assignments": list,
		"count":       len(list),
	})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var in fulfillment.NewAssignment
	if !h.decode(w, r, &in) {
		return
	}
	a, err := h.svc.CreateAssignment(r.Context(), in)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, assignmentBody(a))
}

func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAssignment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", a.Version().ETag())
	h.respondWithJSON(w, http.StatusOK, assignmentBody(a))
}

func assignmentBody(a models.PackageAssignment) map[string]interface{} {
	return map[string]interface{}{
		"success":               true,
		"assignment":            a,
		"completion_percentage": a.CompletionPercentage(),
		"status_info":           a.Status.Info(),
	}
}

func (h *Handler) UpdateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.AssignmentTransition
	if !h.decode(w, r, &req) {
		return
	}
	if !h.expectedVersion(w, r, &req.Expected) {
		return
	}
	a, changed, err := h.svc.TransitionAssignment(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	body := assignmentBody(a)
	body["changed"] = changed
	h.respondWithJSON(w, http.StatusOK, body)
}

func (h *Handler) CompleteService(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := h.svc.CompleteService(r.Context(), vars["id"], vars["serviceId"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, assignmentBody(a))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	pending, err := h.svc.RequestCancellation(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "OTP sent to the customer",
		"cancellation": pending,
	})
}

type verifyRequest struct {
	OTP string `json:"otp"`
}

func (h *Handler) VerifyCancellation(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.VerifyCancellation(r.Context(), mux.Vars(r)["id"], req.OTP)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	body := assignmentBody(a)
	body["message"] = "Package cancelled"
	h.respondWithJSON(w, http.StatusOK, body)
}

func (h *Handler) CancellationStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.CancellationStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pending)
}

func (h *Handler) AbandonCancellation(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.AbandonCancellation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pending)
}

func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fulfillment.InventoryFilter{
		Category:    q.Get("category"),
		Tier:        models.StockTier(q.Get("tier")),
		ReorderOnly: strings.EqualFold(q.Get("reorder"), "true"),
	}
	report, err := h.svc.Inventory(r.Context(), filter)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var items []models.StockItem
	if !h.decode(w, r, &items) {
		return
	}
	h.respondWithJSON(w, http.StatusOK, h.svc.Classify(items))
}

func (h *Handler) PutStock(w http.ResponseWriter, r *http.Request) {
	var item models.StockItem
	if !h.decode(w, r, &item) {
		return
	}
	item.ID = mux.Vars(r)["id"]
	st, err := h.svc.PutStock(r.Context(), item)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, st)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Audit(r.Context())
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || strings.EqualFold(format, "json") {
		h.respondWithJSON(w, http.StatusOK, result)
		return
	}
	out, err := h.svc.Report(result, format)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Failed to decode request body")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// expectedVersion fills *dst from an If-Match header when the body did not
// carry one.
func (h *Handler) expectedVersion(w http.ResponseWriter, r *http.Request, dst **models.Version) bool {
	tag := r.Header.Get("If-Match")
	if tag == "" || *dst != nil {
		return true
	}
	v, err := models.ParseETag(tag)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	*dst = &v
	return true
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, expose := statusFor(err)
	fields := logrus.Fields{"path": r.URL.Path, "status": code}
	if id := mux.Vars(r)["id"]; id != "" {
		fields["record_id"] = id
	}

	if !expose {
		h.logger.WithError(err).WithFields(fields).Error("Request failed")
		h.respondWithError(w, code, http.StatusText(code))
		return
	}
	h.logger.WithError(err).WithFields(fields).Info("Request rejected")
	h.respondWithError(w, code, err.Error())
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"Internal Server Error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
