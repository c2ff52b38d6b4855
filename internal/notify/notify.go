package notify

import (
	"context"
	"fmt"
	"github.com/nilasense/order-service/internal/kafka"
	"github.com/nilasense/order-service/internal/logging"
	"github.com/nilasense/order-service/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notification is one buyer-facing message about an order.
type Notification struct {
	EventID     string
	UserID      int64
	OrderID     int64
	OrderNumber string
	Subject     string
	Body        string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Deduper claims an event id once across redeliveries.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	Dedup    Deduper
	Notifier Notifier
}

// HandleMessage is the kafka.Handler for the order topics. A nil return lets
// the consumer commit the offset.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafka.UnmarshalEnvelope(m.Value, &env); err != nil {
		// pesan rusak tidak akan pernah bisa diproses, jangan diulang
		logging.FromContext(ctx).Error("drop undecodable event", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}
	log := logging.FromContext(ctx).With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("correlation_id", env.CorrelationID),
	)

	n, ok, err := Compose(env)
	if err != nil {
		log.Error("drop event with bad payload", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	claimed, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", env.EventID, err)
	}
	if !claimed {
		log.Debug("duplicate event skipped")
		return nil
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		if rerr := s.Dedup.Release(ctx, env.EventID); rerr != nil {
			log.Warn("release dedup claim", zap.Error(rerr))
		}
		return fmt.Errorf("notify order %d: %w", n.OrderID, err)
	}
	log.Info("buyer notified", zap.Int64("order_id", n.OrderID), zap.Int64("user_id", n.UserID))
	return nil
}

var statusText = map[orders.Status]string{
	orders.StatusPending:    "menunggu pembayaran",
	orders.StatusPaid:       "sudah dibayar",
	orders.StatusProcessing: "sedang diproses",
	orders.StatusShipped:    "sedang dikirim",
	orders.StatusDelivered:  "sudah diterima",
	orders.StatusCancelled:  "dibatalkan",
}

// Compose turns an order event into a notification. ok is false for events
// that do not concern the buyer.
func Compose(env orders.Envelope) (Notification, bool, error) {
	n := Notification{EventID: env.EventID}
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafka.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.UserID, n.OrderID, n.OrderNumber = p.UserID, p.OrderID, p.OrderNumber
		n.Subject = fmt.Sprintf("Pesanan %s berhasil dibuat", p.OrderNumber)
		n.Body = fmt.Sprintf("Halo %s, pesanan %s sebesar Rp %s (%d item) %s.",
			p.ShippingName, p.OrderNumber, p.TotalAmount.StringFixed(2), len(p.Items), statusText[p.Status])
	case orders.EventOrderCancelled:
		p, err := kafka.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.UserID, n.OrderID, n.OrderNumber = p.UserID, p.OrderID, p.OrderNumber
		n.Subject = fmt.Sprintf("Pesanan %s dibatalkan", p.OrderNumber)
		n.Body = fmt.Sprintf("Pesanan %s dibatalkan. Alasan: %s.", p.OrderNumber, p.Reason)
	case orders.EventOrderStatusChanged:
		p, err := kafka.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		// pembatalan sudah dikirim lewat OrderCancelled
		if p.To == orders.StatusCancelled {
			return n, false, nil
		}
		n.UserID, n.OrderID, n.OrderNumber = p.UserID, p.OrderID, p.OrderNumber
		n.Subject = fmt.Sprintf("Status pesanan %s: %s", p.OrderNumber, p.To)
		n.Body = fmt.Sprintf("Pesanan %s %s.", p.OrderNumber, statusText[p.To])
		if p.AdminNotes != nil {
			n.Body += " Catatan: " + *p.AdminNotes
		}
	default:
		return n, false, nil
	}
	return n, true, nil
}

// LogNotifier writes notifications to the structured log. Email delivery is
// owned by another service.
type LogNotifier struct{ Log *zap.Logger }

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Log.Info("notification",
		zap.Int64("user_id", n.UserID),
		zap.Int64("order_id", n.OrderID),
		zap.String("order_number", n.OrderNumber),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
