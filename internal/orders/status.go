package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

// validNext is the administrative transition table. Staying in the same
// status is always allowed so notes can be edited.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusPaid: true, StatusProcessing: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusPaid:       {StatusPending: true, StatusProcessing: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusProcessing: {StatusPending: true, StatusPaid: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusShipped:    {StatusPending: true, StatusPaid: true, StatusProcessing: true, StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return from == to || validNext[from][to]
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	for _, v := range allStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, s)
}

// PaymentStatusFor derives payment_status from status. It is the only way
// payment_status is ever set.
func PaymentStatusFor(s Status) PaymentStatus {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered:
		return PaymentPaid
	case StatusCancelled:
		return PaymentRefunded
	default:
		return PaymentUnpaid
	}
}

// ParsePaymentMethod defaults an empty value to manual transfer.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch pm := PaymentMethod(strings.TrimSpace(s)); pm {
	case "":
		return PaymentManualTransfer, nil
	case PaymentManualTransfer, PaymentMidtrans, PaymentCashOnDelivery:
		return pm, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment_method %q", ErrValidation, s)
	}
}

// InitialState gives status, payment status and gateway for a new order.
func InitialState(pm PaymentMethod) (Status, PaymentStatus, string) {
	switch pm {
	case PaymentMidtrans:
		return StatusPending, PaymentUnpaid, GatewayMidtrans
	case PaymentCashOnDelivery:
		return StatusPending, PaymentUnpaid, GatewayManual
	default:
		// transfer manual dianggap sudah dikonfirmasi
		return StatusPaid, PaymentPaid, GatewayManual
	}
}
