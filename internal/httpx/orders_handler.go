package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/nilasense/order-service/internal/logging"
	"github.com/nilasense/order-service/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"io"
	"net/http"
	"strconv"
	"time"
)

// OrderService is the part of orders.Service the HTTP layer drives.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, bool, error)
	CancelOrder(ctx context.Context, ownerID, orderID int64, reason string) (*orders.Order, error)
	UpdateOrderStatus(ctx context.Context, actor orders.Actor, orderID int64, status string, adminNotes *string) (*orders.Order, error)
	ListMyOrders(ctx context.Context, ownerID int64) ([]orders.OrderSummary, error)
	ListOrders(ctx context.Context, actor orders.Actor) ([]orders.OrderSummary, error)
	GetOrder(ctx context.Context, actor orders.Actor, orderID int64) (*orders.Order, error)
}

type OrdersHandler struct {
	Service OrderService
	Auth    func(http.Handler) http.Handler
	Limiter *ActorRateLimiter
	Timeout time.Duration
}

type CreateOrderReq struct {
	orders.ShippingInfo
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
}

type CreateOrderResp struct {
	ID            int64                `json:"id"`
	OrderNumber   string               `json:"order_number"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time            `json:"created_at"`
}

type CancelOrderReq struct {
	Reason string `json:"reason"`
}

type UpdateStatusReq struct {
	Status     string  `json:"status"`
	AdminNotes *string `json:"admin_notes"`
}

const idempotencyHeader = "Idempotency-Key"

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		if h.Auth != nil {
			r.Use(h.Auth)
		}
		r.With(h.Limiter.Middleware).Post("/", h.createOrder)
		r.Get("/", h.listMyOrders)
		r.With(RequireRoles(orders.RoleAdmin, orders.RolePetambak)).Get("/admin/all", h.listAllOrders)
		r.Get("/{orderId}", h.getOrder)
		r.Put("/{orderId}/cancel", h.cancelOrder)
		r.With(RequireRoles(orders.RoleAdmin, orders.RolePetambak)).Put("/{orderId}/status", h.updateStatus)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

// writeError maps engine errors onto status codes. Unexpected errors are
// logged and never echoed back.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *orders.StockError
	switch {
	case errors.As(err, &stockErr):
		writeMessage(w, http.StatusBadRequest, stockErr.Error())
	case errors.Is(err, orders.ErrValidation), errors.Is(err, orders.ErrBusinessRule):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, orders.ErrForbidden):
		writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeMessage(w, http.StatusServiceUnavailable, "Order service is busy, please retry")
	default:
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *OrdersHandler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func mustActor(w http.ResponseWriter, r *http.Request) (orders.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Access denied, no token")
	}
	return a, ok
}

// orderID reads {orderId}; anything that is not a positive integer cannot
// name an order.
func orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	return id, err == nil && id > 0
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, replayed, err := h.Service.CreateOrder(ctx, orders.CreateOrderInput{
		OwnerID:        actor.ID,
		Shipping:       req.ShippingInfo,
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		CreatedAt:     o.CreatedAt,
	})
}

func (h *OrdersHandler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	list, err := h.Service.ListMyOrders(ctx, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	list, err := h.Service.ListOrders(ctx, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	var req CancelOrderReq
	if err := decodeOptional(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, err := h.Service.CancelOrder(ctx, actor.ID, id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := orderID(r)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, err := h.Service.UpdateOrderStatus(ctx, actor, id, req.Status, req.AdminNotes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
