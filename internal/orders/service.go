package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/nilasense/order-service/internal/inventory"
	"github.com/nilasense/order-service/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"sort"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 3
	previewItems       = 3
	maxIdempotencyKey  = 255
	spanPrefix         = "orders."
)

type CreateOrderInput struct {
	OwnerID        int64
	Shipping       ShippingInfo
	PaymentMethod  string
	Notes          string
	IdempotencyKey string
}

type Service struct {
	uow         UnitOfWork
	queries     Queries
	events      EventPublisher
	producer    string
	idem        IdempotencyCache
	metrics     *Metrics
	tracer      trace.Tracer
	now         func() time.Time
	loc         *time.Location
	maxAttempts int
}

type Option func(*Service)

// WithPublisher sends committed changes to Kafka; producer names the
// emitting service in the envelope.
func WithPublisher(p EventPublisher, producer string) Option {
	return func(s *Service) { s.events, s.producer = p, producer }
}

func WithIdempotencyCache(c IdempotencyCache) Option {
	return func(s *Service) { s.idem = c }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone whose calendar day numbers orders.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMaxAttempts bounds how often a conflicting unit of work is re-run.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(uow UnitOfWork, queries Queries, opts ...Option) *Service {
	s := &Service{
		uow:         uow,
		queries:     queries,
		tracer:      otel.Tracer("nilasense/orders"),
		now:         time.Now,
		loc:         time.UTC,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder turns the owner's cart into an order. The bool is true when an
// order already placed with the same idempotency key is returned instead.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *Order, replayed bool, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"CreateOrder", trace.WithAttributes(
		attribute.Int64("order.owner_id", in.OwnerID),
	))
	defer func() { s.finish(span, "create", err) }()

	shipping, err := normalizeShipping(in.Shipping)
	if err != nil {
		return nil, false, err
	}
	method, err := ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, false, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxIdempotencyKey {
		return nil, false, fmt.Errorf("%w: idempotency key longer than %d characters", ErrValidation, maxIdempotencyKey)
	}
	log := logging.FromContext(ctx).With(zap.Int64("owner_id", in.OwnerID))

	if key != "" {
		if o := s.cachedReplay(ctx, in.OwnerID, key); o != nil {
			log.Info("order create replayed from cache", zap.Int64("order_id", o.ID))
			return o, true, nil
		}
	}

	var order *Order
	err = s.inTx(ctx, "create", func(ctx context.Context, tx Tx) error {
		order, replayed = nil, false
		if key != "" {
			existing, err := tx.Orders().FindByIdempotencyKey(ctx, in.OwnerID, key)
			switch {
			case err == nil:
				if existing.Items, err = tx.Orders().ListItems(ctx, existing.ID); err != nil {
					return err
				}
				order, replayed = existing, true
				return nil
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		o, err := s.placeOrder(ctx, tx, in.OwnerID, shipping, method, in.Notes, key)
		order = o
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if key != "" && s.idem != nil {
		if err := s.idem.Remember(ctx, in.OwnerID, key, order.ID); err != nil {
			log.Warn("idempotency cache write failed", zap.Error(err))
		}
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Bool("order.replayed", replayed))
	if replayed {
		log.Info("order create replayed", zap.Int64("order_id", order.ID))
		return order, true, nil
	}

	s.metrics.orderCreated(order.PaymentMethod)
	log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.String("payment_method", string(order.PaymentMethod)),
	)
	s.publish(ctx, TopicOrderCreated, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.OwnerID,
		ShippingName:  order.ShippingInfo.Name,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		Items:         eventItems(order.Items),
	})
	return order, false, nil
}

func (s *Service) cachedReplay(ctx context.Context, ownerID int64, key string) *Order {
	if s.idem == nil {
		return nil
	}
	id, ok, err := s.idem.Lookup(ctx, ownerID, key)
	if err != nil {
		logging.FromContext(ctx).Warn("idempotency cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	o, err := s.queries.GetOrder(ctx, id, OwnerVisibility(ownerID))
	if err != nil {
		// stale entry, fall back to the database check
		return nil
	}
	return o
}

// placeOrder runs the creation algorithm on tx. Products are locked in
// ascending id order.
func (s *Service) placeOrder(ctx context.Context, tx Tx, ownerID int64, shipping ShippingInfo,
	method PaymentMethod, notes, key string) (*Order, error) {
	lines, err := tx.Cart().GetCartItems(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	need := make(map[int64]decimal.Decimal, len(lines))
	names := make(map[int64]string, len(lines))
	var productIDs []int64
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, l.ProductName)
		}
		if _, seen := need[l.ProductID]; !seen {
			productIDs = append(productIDs, l.ProductID)
		}
		need[l.ProductID] = need[l.ProductID].Add(l.Quantity)
		names[l.ProductID] = l.ProductName
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	available := make(map[int64]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		stock, err := tx.Inventory().GetStock(ctx, id)
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s is no longer available", ErrBusinessRule, names[id])
		}
		if err != nil {
			return nil, err
		}
		available[id] = stock
		if need[id].GreaterThan(stock) {
			return nil, &StockError{ProductID: id, ProductName: names[id], Requested: need[id], Available: stock}
		}
	}

	items := make([]OrderItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		it := OrderItem{
			ProductID:    l.ProductID,
			PondID:       l.PondID,
			ProductName:  l.ProductName,
			ProductImage: l.ProductImage,
			ProductPrice: l.Price,
			Quantity:     l.Quantity,
			Subtotal:     l.Subtotal().Round(2),
		}
		subtotal = subtotal.Add(it.Subtotal)
		items = append(items, it)
	}
	shippingCost := decimal.Zero

	now := s.now().In(s.loc)
	seq, err := tx.Orders().NextOrderSequence(ctx, now)
	if err != nil {
		return nil, err
	}
	status, payStatus, gateway := InitialState(method)
	o := &Order{
		OrderNumber:    FormatOrderNumber(now, seq),
		OwnerID:        ownerID,
		ShippingInfo:   shipping,
		Subtotal:       subtotal,
		ShippingCost:   shippingCost,
		TotalAmount:    subtotal.Add(shippingCost),
		PaymentMethod:  method,
		PaymentGateway: gateway,
		Status:         status,
		PaymentStatus:  payStatus,
		Notes:          optionalText(notes),
		IdempotencyKey: optionalText(key),
	}
	if payStatus == PaymentPaid {
		o.PaidAt = &now
	}
	if err := tx.Orders().InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	if err := tx.Orders().InsertItems(ctx, o.ID, items); err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		err := tx.Inventory().DecrementStock(ctx, id, need[id])
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil, &StockError{ProductID: id, ProductName: names[id], Requested: need[id], Available: available[id]}
		}
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Cart().ClearCart(ctx, ownerID); err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// CancelOrder is the buyer cancellation: only the owner, only while pending.
func (s *Service) CancelOrder(ctx context.Context, ownerID, orderID int64, reason string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"CancelOrder", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("order.owner_id", ownerID),
	))
	defer func() { s.finish(span, "cancel", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Cancelled by buyer"
	}
	var (
		order     *Order
		restocked []OrderItem
	)
	err = s.inTx(ctx, "cancel", func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, OwnerVisibility(ownerID))
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return ErrCannotCancel
		}
		if o.Items, err = tx.Orders().ListItems(ctx, o.ID); err != nil {
			return err
		}
		if restocked, err = s.restock(ctx, tx, o.Items); err != nil {
			return err
		}
		markCancelled(o, ownerID, reason, s.now())
		if err := tx.Orders().SaveStatus(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.transition(StatusPending, StatusCancelled)
	s.metrics.restock(len(restocked))
	logging.FromContext(ctx).Info("order cancelled by owner",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("restocked_items", len(restocked)),
	)
	s.publishCancelled(ctx, order, restocked)
	return order, nil
}

// UpdateOrderStatus is the administrative transition. adminNotes nil keeps
// the stored notes; an empty string clears them.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID int64, status string, adminNotes *string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"UpdateOrderStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("actor.role", string(actor.Role)),
		attribute.String("order.status.to", status),
	))
	defer func() { s.finish(span, "update_status", err) }()

	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	vis, err := VisibilityFor(actor)
	if err != nil {
		return nil, err
	}

	var (
		order     *Order
		from      Status
		restocked []OrderItem
	)
	err = s.inTx(ctx, "update_status", func(ctx context.Context, tx Tx) error {
		restocked = nil
		o, err := tx.Orders().LockOrder(ctx, orderID, vis)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}
		if o.Items, err = tx.Orders().ListItems(ctx, o.ID); err != nil {
			return err
		}
		if adminNotes != nil {
			o.AdminNotes = optionalText(*adminNotes)
		}

		now := s.now()
		if to == StatusCancelled && from != StatusCancelled {
			if restocked, err = s.restock(ctx, tx, o.Items); err != nil {
				return err
			}
			reason := "Cancelled by " + string(actor.Role)
			if o.AdminNotes != nil {
				reason = *o.AdminNotes
			}
			markCancelled(o, actor.ID, reason, now)
		}
		o.Status = to
		o.PaymentStatus = PaymentStatusFor(to)
		if o.PaymentStatus == PaymentPaid && o.PaidAt == nil {
			o.PaidAt = &now
		}
		if err := tx.Orders().SaveStatus(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order status updated",
		zap.Int64("order_id", order.ID),
		zap.Int64("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if from == to {
		return order, nil
	}
	s.metrics.transition(from, to)
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, order.ID, OrderStatusChangedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.OwnerID,
		From:          from,
		To:            to,
		PaymentStatus: order.PaymentStatus,
		AdminNotes:    order.AdminNotes,
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
	})
	if to == StatusCancelled {
		s.metrics.restock(len(restocked))
		s.publishCancelled(ctx, order, restocked)
	}
	return order, nil
}

// ListMyOrders is the buyer's own history with a few preview items per order.
func (s *Service) ListMyOrders(ctx context.Context, ownerID int64) (_ []OrderSummary, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"ListMyOrders")
	defer func() { s.finish(span, "list_mine", err) }()

	list, err := s.queries.ListSummaries(ctx, OwnerVisibility(ownerID))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	previews, err := s.queries.ListPreviews(ctx, ids, previewItems)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Items = previews[list[i].ID]
		if list[i].Items == nil {
			list[i].Items = []ItemPreview{}
		}
		list[i].BuyerName, list[i].BuyerEmail, list[i].FirstProductName, list[i].TotalQuantity = nil, nil, nil, nil
	}
	return list, nil
}

// ListOrders is the administrative list: everything for admin, orders with
// the pond's items for a petambak.
func (s *Service) ListOrders(ctx context.Context, actor Actor) (_ []OrderSummary, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"ListOrders", trace.WithAttributes(
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { s.finish(span, "list", err) }()

	vis, err := VisibilityFor(actor)
	if err != nil {
		return nil, err
	}
	return s.queries.ListSummaries(ctx, vis)
}

// GetOrder returns one order with items if actor may see it.
func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID int64) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"GetOrder", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { s.finish(span, "get", err) }()

	vis, err := ViewerVisibility(actor)
	if err != nil {
		return nil, err
	}
	o, err := s.queries.GetOrder(ctx, orderID, vis)
	if err != nil {
		return nil, err
	}
	if !vis.Allows(o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// inTx re-runs fn while the unit of work reports a conflict.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.uow.Do(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < s.maxAttempts {
			s.metrics.conflictRetry(op)
			logging.FromContext(ctx).Debug("retrying unit of work after conflict",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return fmt.Errorf("%s gave up after %d attempts: %w", op, s.maxAttempts, err)
}

// restock returns every item's quantity to inventory. Items whose product
// has been removed are skipped.
func (s *Service) restock(ctx context.Context, tx Tx, items []OrderItem) ([]OrderItem, error) {
	done := make([]OrderItem, 0, len(items))
	for _, it := range items {
		err := tx.Inventory().IncrementStock(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, inventory.ErrProductNotFound) {
			logging.FromContext(ctx).Warn("product gone, stock not restored",
				zap.Int64("order_id", it.OrderID), zap.Int64("product_id", it.ProductID))
			continue
		}
		if err != nil {
			return nil, err
		}
		done = append(done, it)
	}
	return done, nil
}

func markCancelled(o *Order, by int64, reason string, at time.Time) {
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentStatusFor(StatusCancelled)
	o.CancelledReason = &reason
	o.CancelledAt = &at
	o.CancelledBy = &by
}

func (s *Service) publishCancelled(ctx context.Context, o *Order, restocked []OrderItem) {
	p := OrderCancelledPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.OwnerID,
		Restocked:   eventItems(restocked),
	}
	if o.CancelledReason != nil {
		p.Reason = *o.CancelledReason
	}
	if o.CancelledBy != nil {
		p.CancelledBy = *o.CancelledBy
	}
	s.publish(ctx, TopicOrderCancelled, EventOrderCancelled, o.ID, p)
}

// publish is best effort: the order is already committed.
func (s *Service) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.events == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	env, err := NewEnvelope(eventType, s.producer, traceID, orderID, s.now(), payload)
	if err == nil {
		var b []byte
		if b, err = json.Marshal(env); err == nil {
			s.events.Publish(topic, PartitionKey(orderID), b,
				kafka.Header{Key: "event_type", Value: []byte(eventType)},
				kafka.Header{Key: "event_id", Value: []byte(env.EventID)},
			)
			return
		}
	}
	logging.FromContext(ctx).Error("publish event failed",
		zap.String("event_type", eventType), zap.Int64("order_id", orderID), zap.Error(err))
}

func (s *Service) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.failed(op, FailureReason(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// FailureReason is a low-cardinality label for err.
func FailureReason(err error) string {
	var stockErr *StockError
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrBusinessRule):
		return "business_rule"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unexpected"
	}
}

func normalizeShipping(in ShippingInfo) (ShippingInfo, error) {
	out := ShippingInfo{
		Name:       strings.TrimSpace(in.Name),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    strings.TrimSpace(in.Address),
		City:       strings.TrimSpace(in.City),
		PostalCode: strings.TrimSpace(in.PostalCode),
	}
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"shipping_name", out.Name},
		{"shipping_phone", out.Phone},
		{"shipping_address", out.Address},
		{"shipping_city", out.City},
		{"shipping_postal_code", out.PostalCode},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return ShippingInfo{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return out, nil
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
