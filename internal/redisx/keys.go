package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency create order: idem:order:create:{owner_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreateKey(ownerID int64, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, ownerID, key)
}

func DedupKey(service, eventID string) string {
	return fmt.Sprintf(KeyDedup, service, eventID)
}
