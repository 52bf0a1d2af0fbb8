// Package commercetest provides an in-memory commerce.Store for tests.
//
// It keeps the guarantees the Postgres store gives the reconciliation engine: RetrieveCart and
// RetrievePaymentCollection lock their row until the transaction ends, reads see committed
// state plus the transaction's own writes, writes are only kept on commit, and a cart gets at
// most one order.
package commercetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paybridge/internal/commerce"
)

type Store struct {
	mu    sync.Mutex
	state state
	rows  map[string]*sync.Mutex

	calls   []string
	txCount int
	commits int

	// FailOn makes the named operation return an error.
	FailOn string
	// Delay is slept inside every transaction, after its first operation.
	Delay time.Duration
	// NoRowLocks leaves concurrent transactions on one aggregate unserialized, so only the
	// unique order per cart stands between them.
	NoRowLocks bool
	// Hook runs before every transactional operation, outside the store's lock.
	Hook func(op string)
}

type state struct {
	carts       map[string]commerce.Cart
	orders      map[string]commerce.Order
	swaps       map[string]commerce.Swap
	collections map[string]commerce.PaymentCollection
}

func newState() state {
	return state{
		carts:       map[string]commerce.Cart{},
		orders:      map[string]commerce.Order{},
		swaps:       map[string]commerce.Swap{},
		collections: map[string]commerce.PaymentCollection{},
	}
}

var (
	_ commerce.Store  = (*Store)(nil)
	_ commerce.Reader = (*Store)(nil)
)

var ErrInjected = errors.New("injected failure")

func NewStore() *Store {
	return &Store{state: newState(), rows: map[string]*sync.Mutex{}}
}

func (s *Store) AddCart(c commerce.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Type == "" {
		c.Type = commerce.CartTypeDefault
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = "pending"
	}
	s.state.carts[c.ID] = c
}

func (s *Store) AddSwap(sw commerce.Swap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.swaps[sw.CartID] = sw
}

func (s *Store) AddOrder(o commerce.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orders[o.CartID] = o
}

func (s *Store) AddCollection(pc commerce.PaymentCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.collections[pc.ID] = pc
}

func (s *Store) Cart(id string) (commerce.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.carts[id]
	return c, ok
}

func (s *Store) Swap(cartID string) (commerce.Swap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.state.swaps[cartID]
	return sw, ok
}

func (s *Store) Collection(id string) (commerce.PaymentCollection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.state.collections[id]
	return pc, ok
}

// Orders returns the number of orders created for cartID, counting committed state only.
func (s *Store) Orders(cartID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.orders[cartID]; ok {
		return 1
	}
	return 0
}

// Calls lists every operation made, including those in rolled back transactions.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Store) Count(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) FindCart(_ context.Context, cartID string) (*commerce.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "FindCart")
	c, ok := s.state.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", cartID, commerce.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) FindPaymentCollection(_ context.Context, collectionID string) (*commerce.PaymentCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "FindPaymentCollection")
	pc, ok := s.state.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("payment collection %s: %w", collectionID, commerce.ErrNotFound)
	}
	return &pc, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx commerce.Tx) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()

	tx := &memTx{store: s, writes: newState()}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for cartID := range tx.writes.orders {
		if _, exists := s.state.orders[cartID]; exists {
			return fmt.Errorf("order for cart %s: %w", cartID, commerce.ErrOrderExists)
		}
	}
	for k, v := range tx.writes.carts {
		s.state.carts[k] = v
	}
	for k, v := range tx.writes.orders {
		s.state.orders[k] = v
	}
	for k, v := range tx.writes.swaps {
		s.state.swaps[k] = v
	}
	for k, v := range tx.writes.collections {
		s.state.collections[k] = v
	}
	s.commits++
	return nil
}

func (s *Store) row(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	return m
}

type memTx struct {
	store   *Store
	writes  state
	held    map[string]*sync.Mutex
	delayed bool
}

// lock takes the row lock for key once per transaction, like SELECT ... FOR UPDATE.
func (t *memTx) lock(key string) {
	if t.store.NoRowLocks {
		return
	}
	if _, ok := t.held[key]; ok {
		return
	}
	m := t.store.row(key)
	m.Lock()
	if t.held == nil {
		t.held = map[string]*sync.Mutex{}
	}
	t.held[key] = m
}

func (t *memTx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

func (t *memTx) record(op string) error {
	t.store.mu.Lock()
	t.store.calls = append(t.store.calls, op)
	t.store.mu.Unlock()

	if t.store.Hook != nil {
		t.store.Hook(op)
	}
	if !t.delayed && t.store.Delay > 0 {
		t.delayed = true
		time.Sleep(t.store.Delay)
	}
	if t.store.FailOn == op {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (t *memTx) cart(id string) (commerce.Cart, bool) {
	if c, ok := t.writes.carts[id]; ok {
		return c, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c, ok := t.store.state.carts[id]
	return c, ok
}

func (t *memTx) order(cartID string) (commerce.Order, bool) {
	if o, ok := t.writes.orders[cartID]; ok {
		return o, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	o, ok := t.store.state.orders[cartID]
	return o, ok
}

func (t *memTx) swap(cartID string) (commerce.Swap, bool) {
	if sw, ok := t.writes.swaps[cartID]; ok {
		return sw, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	sw, ok := t.store.state.swaps[cartID]
	return sw, ok
}

func (t *memTx) swapByID(swapID string) (commerce.Swap, bool) {
	for _, sw := range t.writes.swaps {
		if sw.ID == swapID {
			return sw, true
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, sw := range t.store.state.swaps {
		if sw.ID == swapID {
			return sw, true
		}
	}
	return commerce.Swap{}, false
}

func (t *memTx) collection(id string) (commerce.PaymentCollection, bool) {
	if pc, ok := t.writes.collections[id]; ok {
		return pc, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	pc, ok := t.store.state.collections[id]
	return pc, ok
}

func (t *memTx) RetrieveCart(_ context.Context, cartID string) (*commerce.Cart, error) {
	t.lock("cart:" + cartID)
	if err := t.record("RetrieveCart"); err != nil {
		return nil, err
	}
	c, ok := t.cart(cartID)
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", cartID, commerce.ErrNotFound)
	}
	return &c, nil
}

func (t *memTx) RetrieveOrderByCartID(_ context.Context, cartID string) (*commerce.Order, error) {
	if err := t.record("RetrieveOrderByCartID"); err != nil {
		return nil, err
	}
	o, ok := t.order(cartID)
	if !ok {
		return nil, fmt.Errorf("order for cart %s: %w", cartID, commerce.ErrNotFound)
	}
	return &o, nil
}

func (t *memTx) RetrieveSwapByCartID(_ context.Context, cartID string) (*commerce.Swap, error) {
	if err := t.record("RetrieveSwapByCartID"); err != nil {
		return nil, err
	}
	sw, ok := t.swap(cartID)
	if !ok {
		return nil, fmt.Errorf("swap for cart %s: %w", cartID, commerce.ErrNotFound)
	}
	return &sw, nil
}

func (t *memTx) SetPaymentSession(_ context.Context, cartID, providerID string) error {
	if err := t.record("SetPaymentSession"); err != nil {
		return err
	}
	c, ok := t.cart(cartID)
	if !ok {
		return fmt.Errorf("cart %s: %w", cartID, commerce.ErrNotFound)
	}
	c.PaymentProviderID = &providerID
	t.writes.carts[cartID] = c
	return nil
}

func (t *memTx) AuthorizePayment(_ context.Context, cartID string) error {
	if err := t.record("AuthorizePayment"); err != nil {
		return err
	}
	c, ok := t.cart(cartID)
	if !ok || c.PaymentProviderID == nil {
		return fmt.Errorf("cart %s without payment session: %w", cartID, commerce.ErrNotFound)
	}
	now := time.Now()
	c.PaymentStatus = "authorized"
	c.PaymentAuthorized = &now
	t.writes.carts[cartID] = c
	return nil
}

func (t *memTx) CreateOrderFromCart(_ context.Context, cartID string) (*commerce.Order, error) {
	if err := t.record("CreateOrderFromCart"); err != nil {
		return nil, err
	}
	c, ok := t.cart(cartID)
	if !ok || c.PaymentStatus != "authorized" {
		return nil, fmt.Errorf("authorized cart %s: %w", cartID, commerce.ErrNotFound)
	}
	if _, exists := t.order(cartID); exists {
		return nil, fmt.Errorf("order for cart %s: %w", cartID, commerce.ErrOrderExists)
	}
	o := commerce.Order{
		ID:            "order_" + cartID,
		CartID:        cartID,
		Status:        "pending",
		PaymentStatus: "authorized",
		TotalCents:    c.TotalCents,
		CreatedAt:     time.Now(),
	}
	t.writes.orders[cartID] = o
	return &o, nil
}

func (t *memTx) RegisterCartCompletion(_ context.Context, swapID string) error {
	if err := t.record("RegisterCartCompletion"); err != nil {
		return err
	}
	sw, ok := t.swapByID(swapID)
	if !ok {
		return fmt.Errorf("swap %s: %w", swapID, commerce.ErrNotFound)
	}
	if sw.Confirmed() {
		return fmt.Errorf("swap %s already confirmed", swapID)
	}
	now := time.Now()
	sw.ConfirmedAt = &now
	t.writes.swaps[sw.CartID] = sw
	return nil
}

func (t *memTx) RetrievePaymentCollection(_ context.Context, collectionID string) (*commerce.PaymentCollection, error) {
	t.lock("collection:" + collectionID)
	if err := t.record("RetrievePaymentCollection"); err != nil {
		return nil, err
	}
	pc, ok := t.collection(collectionID)
	if !ok {
		return nil, fmt.Errorf("payment collection %s: %w", collectionID, commerce.ErrNotFound)
	}
	return &pc, nil
}

func (t *memTx) AuthorizePaymentCollection(_ context.Context, collectionID string) error {
	if err := t.record("AuthorizePaymentCollection"); err != nil {
		return err
	}
	pc, ok := t.collection(collectionID)
	if !ok {
		return fmt.Errorf("payment collection %s: %w", collectionID, commerce.ErrNotFound)
	}
	if pc.Authorized() {
		return nil
	}
	now := time.Now()
	pc.Status = "authorized"
	pc.AuthorizedAt = &now
	t.writes.collections[collectionID] = pc
	return nil
}
