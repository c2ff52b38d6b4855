package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/nilasense/order-service/internal/cart"
	"github.com/nilasense/order-service/internal/inventory"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"sort"
	"strings"
	"sync"
	"time"
)

// memState holds rows. As the committed database it is guarded by memUoW.mu;
// as a unit's working set it holds only the rows that unit locked or wrote.
type memState struct {
	orders map[int64]Order
	items  map[int64][]OrderItem
	stock  map[int64]decimal.Decimal
	carts  map[int64][]cart.Line
	seq    map[string]int
}

func newMemState() *memState {
	return &memState{
		orders: map[int64]Order{},
		items:  map[int64][]OrderItem{},
		stock:  map[int64]decimal.Decimal{},
		carts:  map[int64][]cart.Line{},
		seq:    map[string]int{},
	}
}

func (s *memState) withItems(o Order) *Order {
	o.Items = append([]OrderItem(nil), s.items[o.ID]...)
	return &o
}

// nextSeq is the counter upsert: seeded from the day's orders, then +1.
func (s *memState) nextSeq(day time.Time, current int) int {
	prefix := OrderNumberPrefix(day)
	n := 0
	for _, o := range s.orders {
		if strings.HasPrefix(o.OrderNumber, prefix) {
			n++
		}
	}
	return max(current, n) + 1
}

// violates reports the unique indexes a new order would break.
func (s *memState) violates(o Order) error {
	for _, other := range s.orders {
		if other.ID == o.ID {
			continue
		}
		if other.OrderNumber == o.OrderNumber {
			return fmt.Errorf("%w: duplicate order number %s", ErrConflict, o.OrderNumber)
		}
		if o.IdempotencyKey != nil && other.OwnerID == o.OwnerID &&
			other.IdempotencyKey != nil && *other.IdempotencyKey == *o.IdempotencyKey {
			return fmt.Errorf("%w: duplicate idempotency key", ErrConflict)
		}
	}
	return nil
}

// apply commits a unit's working set. New orders are checked against the
// unique indexes first; nothing is written when one is violated.
func (s *memState) apply(w *memState) error {
	for id, o := range w.orders {
		if _, exists := s.orders[id]; exists {
			continue
		}
		if err := s.violates(o); err != nil {
			return err
		}
	}
	for id, o := range w.orders {
		s.orders[id] = o
	}
	for id, items := range w.items {
		s.items[id] = items
	}
	for id, kg := range w.stock {
		s.stock[id] = kg
	}
	for owner, lines := range w.carts {
		if len(lines) == 0 {
			delete(s.carts, owner)
			continue
		}
		s.carts[owner] = lines
	}
	for day, n := range w.seq {
		s.seq[day] = n
	}
	return nil
}

// memUoW is an in-memory UnitOfWork that behaves like READ COMMITTED with
// FOR UPDATE: a unit takes a row lock when it first touches a product, a
// cart, an order or a day counter, reads the latest committed row once the
// lock is granted, and holds every lock until it commits or rolls back.
// Units run concurrently.
type memUoW struct {
	mu       sync.Mutex
	state    *memState
	rowLocks map[string]*sync.Mutex
	lastID   int64
	lastItem int64
	units    int

	// beforeCommit runs after fn succeeded, with the unit's row locks held.
	beforeCommit func(u *memUoW)
	// lockWait runs when a unit is about to block on a row lock.
	lockWait func(key string)
	// failOn makes the named tx method fail.
	failOn string
	// decrementShort makes every guarded decrement find too little stock.
	decrementShort bool
}

func newMemUoW() *memUoW {
	return &memUoW{state: newMemState(), rowLocks: map[string]*sync.Mutex{}}
}

func (u *memUoW) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	u.mu.Lock()
	u.units++
	u.mu.Unlock()

	tx := &memTx{u: u, st: newMemState(), held: map[string]*sync.Mutex{}}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if u.beforeCommit != nil {
		u.beforeCommit(u)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.apply(tx.st)
}

func (u *memUoW) unitCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.units
}

func (u *memUoW) nextOrderID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastID++
	return u.lastID
}

func (u *memUoW) nextItemID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastItem++
	return u.lastItem
}

func orderTimes(o *Order) {
	o.CreatedAt = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC).Add(time.Duration(o.ID) * time.Minute)
	o.UpdatedAt = o.CreatedAt
}

// commitCompetitor stores an order numbered like a concurrent request would
// number it, bypassing the engine and its row locks.
func (u *memUoW) commitCompetitor(day time.Time, ownerID int64) string {
	id := u.nextOrderID()
	u.mu.Lock()
	defer u.mu.Unlock()
	key := day.Format("2006-01-02")
	seq := u.state.nextSeq(day, u.state.seq[key])
	u.state.seq[key] = seq
	o := Order{ID: id, OrderNumber: FormatOrderNumber(day, seq), OwnerID: ownerID, Status: StatusPending, PaymentStatus: PaymentUnpaid}
	orderTimes(&o)
	u.state.orders[id] = o
	return o.OrderNumber
}

func (u *memUoW) setStock(productID int64, kg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state.stock[productID] = decimal.RequireFromString(kg)
}

func (u *memUoW) addToCart(ownerID int64, l cart.Line) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state.carts[ownerID] = append(u.state.carts[ownerID], l)
}

func (u *memUoW) stockOf(productID int64) decimal.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.stock[productID]
}

func (u *memUoW) cartOf(ownerID int64) []cart.Line {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.carts[ownerID]
}

func (u *memUoW) orderCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.state.orders)
}

func (u *memUoW) itemCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, v := range u.state.items {
		n += len(v)
	}
	return n
}

type memTx struct {
	u    *memUoW
	st   *memState
	held map[string]*sync.Mutex
}

func (t *memTx) Orders() Store              { return t }
func (t *memTx) Inventory() InventoryLedger { return t }
func (t *memTx) Cart() CartReader           { return t }

func (t *memTx) fail(op string) error {
	if t.u.failOn == op {
		return fmt.Errorf("%s: injected failure", op)
	}
	return nil
}

// lock takes the row lock for key, blocking while another unit holds it.
func (t *memTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	t.u.mu.Lock()
	m, ok := t.u.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		t.u.rowLocks[key] = m
	}
	t.u.mu.Unlock()

	if !m.TryLock() {
		if t.u.lockWait != nil {
			t.u.lockWait(key)
		}
		m.Lock()
	}
	t.held[key] = m
}

func (t *memTx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
}

func (t *memTx) committed(fn func(s *memState)) {
	t.u.mu.Lock()
	defer t.u.mu.Unlock()
	fn(t.u.state)
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, ownerID int64, key string) (*Order, error) {
	match := func(o Order) bool {
		return o.OwnerID == ownerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key
	}
	for _, o := range t.st.orders {
		if match(o) {
			return &o, nil
		}
	}
	var found *Order
	t.committed(func(s *memState) {
		for _, o := range s.orders {
			if match(o) {
				found = &o
				return
			}
		}
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (t *memTx) NextOrderSequence(_ context.Context, day time.Time) (int, error) {
	if err := t.fail("NextOrderSequence"); err != nil {
		return 0, err
	}
	key := day.Format("2006-01-02")
	t.lock("seq:" + key)
	var next int
	t.committed(func(s *memState) {
		current, ok := t.st.seq[key]
		if !ok {
			current = s.seq[key]
		}
		next = s.nextSeq(day, current)
	})
	t.st.seq[key] = next
	return next, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	o.ID = t.u.nextOrderID()
	orderTimes(o)
	stored := *o
	stored.Items = nil
	var err error
	t.committed(func(s *memState) { err = s.violates(stored) })
	if err != nil {
		return err
	}
	t.st.orders[o.ID] = stored
	return nil
}

func (t *memTx) InsertItems(_ context.Context, orderID int64, items []OrderItem) error {
	if err := t.fail("InsertItems"); err != nil {
		return err
	}
	for i := range items {
		items[i].ID = t.u.nextItemID()
		items[i].OrderID = orderID
	}
	t.st.items[orderID] = append(t.st.items[orderID], items...)
	return nil
}

// row returns the order as this unit sees it.
func (t *memTx) row(id int64) (Order, []OrderItem, bool) {
	if o, ok := t.st.orders[id]; ok {
		return o, t.st.items[id], true
	}
	var (
		o     Order
		items []OrderItem
		ok    bool
	)
	t.committed(func(s *memState) {
		o, ok = s.orders[id]
		items = append([]OrderItem(nil), s.items[id]...)
	})
	return o, items, ok
}

func (t *memTx) LockOrder(_ context.Context, id int64, vis Visibility) (*Order, error) {
	t.lock(fmt.Sprintf("order:%d", id))
	o, items, ok := t.row(id)
	if !ok {
		return nil, ErrNotFound
	}
	full := o
	full.Items = items
	if !vis.Allows(&full) {
		return nil, ErrNotFound
	}
	full.Items = nil
	return &full, nil
}

func (t *memTx) ListItems(_ context.Context, orderID int64) ([]OrderItem, error) {
	_, items, _ := t.row(orderID)
	return append([]OrderItem(nil), items...), nil
}

func (t *memTx) SaveStatus(_ context.Context, o *Order) error {
	if err := t.fail("SaveStatus"); err != nil {
		return err
	}
	if _, _, ok := t.row(o.ID); !ok {
		return ErrNotFound
	}
	stored := *o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return nil
}

// stockRow locks the product row and returns its current stock.
func (t *memTx) stockRow(productID int64) (decimal.Decimal, bool) {
	t.lock(fmt.Sprintf("product:%d", productID))
	if kg, ok := t.st.stock[productID]; ok {
		return kg, true
	}
	var (
		kg decimal.Decimal
		ok bool
	)
	t.committed(func(s *memState) { kg, ok = s.stock[productID] })
	if ok {
		t.st.stock[productID] = kg
	}
	return kg, ok
}

func (t *memTx) GetStock(_ context.Context, productID int64) (decimal.Decimal, error) {
	kg, ok := t.stockRow(productID)
	if !ok {
		return decimal.Zero, inventory.ErrProductNotFound
	}
	return kg, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty decimal.Decimal) error {
	if err := t.fail("DecrementStock"); err != nil {
		return err
	}
	kg, ok := t.stockRow(productID)
	if !ok || kg.LessThan(qty) || t.u.decrementShort {
		return inventory.ErrInsufficientStock
	}
	t.st.stock[productID] = kg.Sub(qty)
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, productID int64, qty decimal.Decimal) error {
	if err := t.fail("IncrementStock"); err != nil {
		return err
	}
	kg, ok := t.stockRow(productID)
	if !ok {
		return inventory.ErrProductNotFound
	}
	t.st.stock[productID] = kg.Add(qty)
	return nil
}

// GetCartItems locks the owner's cart like SELECT ... FOR UPDATE OF c.
func (t *memTx) GetCartItems(_ context.Context, ownerID int64) ([]cart.Line, error) {
	t.lock(fmt.Sprintf("cart:%d", ownerID))
	var lines []cart.Line
	t.committed(func(s *memState) {
		current, ok := t.st.carts[ownerID]
		if !ok {
			current = append([]cart.Line(nil), s.carts[ownerID]...)
			t.st.carts[ownerID] = current
		}
		lines = append([]cart.Line(nil), current...)
		for i := range lines {
			lines[i].Stock = s.stock[lines[i].ProductID]
		}
	})
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (t *memTx) ClearCart(_ context.Context, ownerID int64) error {
	if err := t.fail("ClearCart"); err != nil {
		return err
	}
	t.lock(fmt.Sprintf("cart:%d", ownerID))
	t.st.carts[ownerID] = []cart.Line{}
	return nil
}

// Queries over the committed state.

func (u *memUoW) ListSummaries(_ context.Context, vis Visibility) ([]OrderSummary, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	pond, scoped := vis.PondScoped()
	out := []OrderSummary{}
	for _, o := range u.state.orders {
		full := u.state.withItems(o)
		if !vis.Allows(full) {
			continue
		}
		s := OrderSummary{
			ID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, PaymentStatus: o.PaymentStatus,
			PaymentMethod: o.PaymentMethod, TotalAmount: o.TotalAmount, AdminNotes: o.AdminNotes,
			CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
		}
		total := decimal.Zero
		for _, it := range full.Items {
			if scoped && (it.PondID == nil || *it.PondID != pond) {
				continue
			}
			if s.FirstProductName == nil {
				name := it.ProductName
				s.FirstProductName = &name
			}
			s.ItemCount++
			total = total.Add(it.Quantity)
		}
		s.TotalQuantity = &total
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (u *memUoW) ListPreviews(_ context.Context, orderIDs []int64, perOrder int) (map[int64][]ItemPreview, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := map[int64][]ItemPreview{}
	for _, id := range orderIDs {
		for i, it := range u.state.items[id] {
			if i == perOrder {
				break
			}
			out[id] = append(out[id], ItemPreview{ID: it.ID, ProductName: it.ProductName, ProductImage: it.ProductImage, Quantity: it.Quantity})
		}
	}
	return out, nil
}

func (u *memUoW) GetOrder(_ context.Context, id int64, vis Visibility) (*Order, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	o, ok := u.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	full := u.state.withItems(o)
	if !vis.Allows(full) {
		return nil, ErrNotFound
	}
	for i := range full.Items {
		if s, ok := u.state.stock[full.Items[i].ProductID]; ok {
			full.Items[i].CurrentStock = &s
		}
	}
	return full, nil
}

type published struct {
	topic   string
	key     string
	value   []byte
	headers []kafka.Header
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: string(key), value: value, headers: headers})
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.topic)
	}
	return out
}

type memIdemCache struct {
	mu      sync.Mutex
	entries map[string]int64
	err     error
}

func (c *memIdemCache) Lookup(_ context.Context, ownerID int64, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, false, c.err
	}
	id, ok := c.entries[fmt.Sprintf("%d:%s", ownerID, key)]
	return id, ok, nil
}

func (c *memIdemCache) Remember(_ context.Context, ownerID int64, key string, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.entries == nil {
		c.entries = map[string]int64{}
	}
	c.entries[fmt.Sprintf("%d:%s", ownerID, key)] = orderID
	return nil
}

var errCacheDown = errors.New("redis: connection refused")
