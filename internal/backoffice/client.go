// Package backoffice is a store.Store backed by the clinic's admin REST API.
// Every call goes through a circuit breaker; lookups of missing records and
// version conflicts are answers from a healthy upstream and never trip it.
package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/circuitbreaker"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// VersionHeader carries the version a write was derived from.
const VersionHeader = "If-Match"

// StatusError is a non-2xx answer from the admin API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backoffice returned error status: %d", e.Code)
	}
	return fmt.Sprintf("backoffice returned error status: %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

var _ store.Store = (*Client)(nil)

func NewClient(baseURL string, breakers *circuitbreaker.Manager, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: breakers.GetOrCreate("backoffice", circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			MaxRequests: 1,
			IsFailure:   isUpstreamFailure,
		}),
		logger: logger,
	}
}

func isUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStaleWrite) ||
		errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &order)
	return order, err
}

func (c *Client) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	var response struct {
		Success bool           `json:"success"`
		Orders  []models.Order `json:"orders"`
		Count   int            `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders"+statusQuery(status), nil, nil, &response); err != nil {
		return nil, err
	}
	c.logger.WithField("count", len(response.Orders)).Debug("Retrieved orders from backoffice")
	return response.Orders, nil
}

func (c *Client) CreateOrder(ctx context.Context, order models.Order) error {
	return c.do(ctx, http.MethodPost, "/orders", order, nil, nil)
}

func (c *Client) SaveOrder(ctx context.Context, order models.Order, expected models.Version) error {
	err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(order.ID), order, versionHeader(expected), nil)
	if err == nil {
		c.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Info("Order saved to backoffice")
	}
	return err
}

func (c *Client) GetAssignment(ctx context.Context, id string) (models.PackageAssignment, error) {
	var a models.PackageAssignment
	err := c.do(ctx, http.MethodGet, "/package-assignments/"+url.PathEscape(id), nil, nil, &a)
	return a, err
}

func (c *Client) ListAssignments(ctx context.Context, status string) ([]models.PackageAssignment, error) {
	var response struct {
		Assignments []models.PackageAssignment `json:"assignments"`
	}
	if err := c.do(ctx, http.MethodGet, "/package-assignments"+statusQuery(status), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Assignments, nil
}

func (c *Client) CreateAssignment(ctx context.Context, a models.PackageAssignment) error {
	return c.do(ctx, http.MethodPost, "/package-assignments", a, nil, nil)
}

func (c *Client) SaveAssignment(ctx context.Context, a models.PackageAssignment, expected models.Version) error {
	return c.do(ctx, http.MethodPut, "/package-assignments/"+url.PathEscape(a.ID), a, versionHeader(expected), nil)
}

func (c *Client) ListStock(ctx context.Context) ([]models.StockItem, error) {
	var response struct {
		Items []models.StockItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/inventory", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) PutStock(ctx context.Context, item models.StockItem) error {
	return c.do(ctx, http.MethodPut, "/inventory/"+url.PathEscape(item.ID), item, nil, nil)
}

func statusQuery(status string) string {
	status = strings.TrimSpace(status)
	if status == "" || strings.EqualFold(status, store.StatusAll) {
		return ""
	}
	return "?status=" + url.QueryEscape(status)
}

func versionHeader(v models.Version) http.Header {
	h := http.Header{}
	h.Set(VersionHeader, v.ETag())
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, header http.Header, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request to backoffice: %w", err)
		}
		defer resp.Body.Close()

		if err := statusErr(method, resp); err != nil {
			c.logger.WithFields(logrus.Fields{
				"method": method,
				"path":   path,
				"status": resp.StatusCode,
			}).Debug("Backoffice request rejected")
			return err
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode backoffice response: %w", err)
		}
		return nil
	})
}

func statusErr(method string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusPreconditionFailed:
		return store.ErrStaleWrite
	case resp.StatusCode == http.StatusConflict && method == http.MethodPost:
		return store.ErrAlreadyExists
	case resp.StatusCode == http.StatusConflict:
		return store.ErrStaleWrite
	}

	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Message}
}
