package orders

import "strconv"

const (
	TopicOrderCreated       = "order.created"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status_changed"
)

// Topics lists every topic the engine publishes to.
var Topics = []string{TopicOrderCreated, TopicOrderCancelled, TopicOrderStatusChanged}

// Partition key = order id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
