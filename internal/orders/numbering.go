package orders

import (
	"fmt"
	"time"
)

const orderNumberDateLayout = "20060102"

// OrderNumberPrefix is "ORD-YYYYMMDD-" for the calendar day of t.
func OrderNumberPrefix(t time.Time) string {
	return "ORD-" + t.Format(orderNumberDateLayout) + "-"
}

// FormatOrderNumber renders ORD-YYYYMMDD-NNNN. Sequences past 9999 keep growing.
func FormatOrderNumber(t time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", OrderNumberPrefix(t), seq)
}
