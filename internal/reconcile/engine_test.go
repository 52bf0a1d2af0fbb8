package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paybridge/internal/commerce"
	"paybridge/internal/commerce/commercetest"
	"paybridge/internal/notify"
)

type recordingPublisher struct {
	mu        sync.Mutex
	outcomes  []notify.Outcome
	err       error
	onPublish func(notify.Outcome)
}

func (p *recordingPublisher) Publish(_ context.Context, o notify.Outcome) error {
	if p.onPublish != nil {
		p.onPublish(o)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return p.err
}

func (p *recordingPublisher) Outcomes() []notify.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Outcome(nil), p.outcomes...)
}

func newEngine(store commerce.Store, pub notify.Publisher) *Engine {
	return NewEngine(store, pub, "alipay", zap.NewNop().Sugar())
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReconcileAuthorizesPlainCheckout(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	pub := &recordingPublisher{}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "c1", amount("88.88"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Succeeded || outcome.CorrelationID != "c1" || outcome.Reason != "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	cart, _ := store.Cart("c1")
	if cart.PaymentStatus != "authorized" || cart.PaymentProviderID == nil || *cart.PaymentProviderID != "alipay" {
		t.Fatalf("cart not authorized: %+v", cart)
	}
	if store.Orders("c1") != 1 {
		t.Fatal("expected one order")
	}
	if got := pub.Outcomes(); len(got) != 1 || got[0] != outcome {
		t.Fatalf("expected the outcome to be published once, got %+v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	pub := &recordingPublisher{}
	engine := newEngine(store, pub)

	for i := 0; i < 2; i++ {
		outcome, err := engine.Reconcile(context.Background(), "c1", amount("88.88"))
		if err != nil || !outcome.Succeeded {
			t.Fatalf("call %d: outcome %+v err %v", i, outcome, err)
		}
	}

	if n := store.Count("CreateOrderFromCart"); n != 1 {
		t.Fatalf("expected one order creation, got %d", n)
	}
	if n := store.Count("AuthorizePayment"); n != 1 {
		t.Fatalf("expected one authorization, got %d", n)
	}
	if n := len(pub.Outcomes()); n != 2 {
		t.Fatalf("expected one published outcome per call, got %d", n)
	}
}

func TestReconcileAmountMismatchChangesNothing(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	pub := &recordingPublisher{}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "c1", amount("88.00"))
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if outcome.Succeeded || outcome.Reason != ReasonAmountMismatch {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	for _, op := range []string{"SetPaymentSession", "AuthorizePayment", "CreateOrderFromCart", "RetrieveOrderByCartID"} {
		if n := store.Count(op); n != 0 {
			t.Fatalf("%s called %d times after a mismatch", op, n)
		}
	}
	if cart, _ := store.Cart("c1"); cart.PaymentStatus != "pending" {
		t.Fatalf("cart changed: %+v", cart)
	}
	if got := pub.Outcomes(); len(got) != 1 || got[0].Reason != ReasonAmountMismatch {
		t.Fatalf("unexpected published outcomes %+v", got)
	}
}

func TestReconcileAmountComparisonIsExact(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8880})

	// 88.8 and 88.80 are the same amount
	if _, err := newEngine(store, &recordingPublisher{}).Reconcile(context.Background(), "c1", amount("88.8")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.AddCart(commerce.Cart{ID: "c2", TotalCents: 8880})
	if _, err := newEngine(store, &recordingPublisher{}).Reconcile(context.Background(), "c2", amount("88.801")); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestReconcileUnknownCart(t *testing.T) {
	store := commercetest.NewStore()
	pub := &recordingPublisher{}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "missing", amount("1.00"))
	if !errors.Is(err, ErrAggregateNotFound) {
		t.Fatalf("expected ErrAggregateNotFound, got %v", err)
	}
	if outcome.Succeeded || outcome.Reason != ReasonNotFound {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(pub.Outcomes()) != 1 {
		t.Fatal("expected the failure to be published")
	}
}

func TestReconcileAuthorizesPaymentCollection(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCollection(commerce.PaymentCollection{ID: "42", AmountCents: 1000, Status: "not_paid"})
	pub := &recordingPublisher{}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "paycol_42", amount("10.00"))
	if err != nil || !outcome.Succeeded {
		t.Fatalf("outcome %+v err %v", outcome, err)
	}
	if outcome.CorrelationID != "paycol_42" {
		t.Fatalf("outcome keyed by %q", outcome.CorrelationID)
	}

	pc, _ := store.Collection("42")
	if !pc.Authorized() {
		t.Fatalf("collection not authorized: %+v", pc)
	}
	for _, op := range []string{"RetrieveCart", "SetPaymentSession", "CreateOrderFromCart"} {
		if n := store.Count(op); n != 0 {
			t.Fatalf("cart operation %s called for a payment collection", op)
		}
	}
}

func TestReconcilePaymentCollectionAlreadyAuthorized(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCollection(commerce.PaymentCollection{ID: "42", AmountCents: 1000, Status: "authorized"})

	outcome, err := newEngine(store, &recordingPublisher{}).Reconcile(context.Background(), "paycol_42", amount("10.00"))
	if err != nil || !outcome.Succeeded {
		t.Fatalf("outcome %+v err %v", outcome, err)
	}
	if n := store.Count("AuthorizePaymentCollection"); n != 0 {
		t.Fatalf("expected no authorization, got %d", n)
	}
}

func TestReconcilePaymentCollectionMismatch(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCollection(commerce.PaymentCollection{ID: "42", AmountCents: 1000, Status: "not_paid"})

	_, err := newEngine(store, &recordingPublisher{}).Reconcile(context.Background(), "paycol_42", amount("9.99"))
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if pc, _ := store.Collection("42"); pc.Authorized() {
		t.Fatal("collection authorized despite mismatch")
	}
}

func TestReconcileSwap(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", Type: commerce.CartTypeSwap, TotalCents: 500})
	store.AddSwap(commerce.Swap{ID: "swap_1", CartID: "c1", OrderID: "order_0"})
	engine := newEngine(store, &recordingPublisher{})

	outcome, err := engine.Reconcile(context.Background(), "c1", amount("5.00"))
	if err != nil || !outcome.Succeeded {
		t.Fatalf("outcome %+v err %v", outcome, err)
	}
	if sw, _ := store.Swap("c1"); !sw.Confirmed() {
		t.Fatal("swap not confirmed")
	}
	if n := store.Count("CreateOrderFromCart"); n != 0 {
		t.Fatal("swap checkout must not create an order")
	}

	// second delivery is a no-op
	if _, err := engine.Reconcile(context.Background(), "c1", amount("5.00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := store.Count("RegisterCartCompletion"); n != 1 {
		t.Fatalf("expected one completion, got %d", n)
	}
}

func TestReconcileSwapCartWithoutSwap(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", Type: commerce.CartTypeSwap, TotalCents: 500})

	outcome, err := newEngine(store, &recordingPublisher{}).Reconcile(context.Background(), "c1", amount("5.00"))
	if !errors.Is(err, ErrAggregateNotFound) || outcome.Reason != ReasonNotFound {
		t.Fatalf("outcome %+v err %v", outcome, err)
	}
	if n := store.Count("AuthorizePayment"); n != 0 {
		t.Fatal("payment authorized without a swap")
	}
}

func TestReconcileRollsBackOnFailure(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	store.FailOn = "CreateOrderFromCart"
	pub := &recordingPublisher{}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "c1", amount("88.88"))
	if !errors.Is(err, ErrTransactionFailure) || !errors.Is(err, commercetest.ErrInjected) {
		t.Fatalf("expected wrapped transaction failure, got %v", err)
	}
	if outcome.Succeeded || outcome.Reason != ReasonTransactionFailed {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if cart, _ := store.Cart("c1"); cart.PaymentStatus != "pending" || cart.PaymentProviderID != nil {
		t.Fatalf("partial changes survived rollback: %+v", cart)
	}
	if store.Commits() != 0 {
		t.Fatal("failed transaction committed")
	}
	if len(pub.Outcomes()) != 1 {
		t.Fatal("expected the failure to be published")
	}
}

func TestReconcilePublishesAfterCommit(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 100})

	commitsAtPublish := -1
	pub := &recordingPublisher{onPublish: func(notify.Outcome) { commitsAtPublish = store.Commits() }}

	if _, err := newEngine(store, pub).Reconcile(context.Background(), "c1", amount("1.00")); err != nil {
		t.Fatal(err)
	}
	if commitsAtPublish != 1 {
		t.Fatalf("outcome published before commit (commits=%d)", commitsAtPublish)
	}
}

func TestReconcileIgnoresPublishFailure(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 100})
	pub := &recordingPublisher{err: notify.ErrRelayBacklog}

	outcome, err := newEngine(store, pub).Reconcile(context.Background(), "c1", amount("1.00"))
	if err != nil || !outcome.Succeeded {
		t.Fatalf("outcome %+v err %v", outcome, err)
	}
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	store.Delay = 5 * time.Millisecond
	bus := notify.NewBus()
	sub := bus.Subscribe("c1")
	engine := newEngine(store, bus)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Reconcile(context.Background(), "c1", amount("88.88")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Count("RetrieveCart"); got != n {
		t.Fatalf("expected %d cart reads, got %d", n, got)
	}
	if got := store.Count("CreateOrderFromCart"); got != 1 {
		t.Fatalf("expected exactly one order creation, got %d", got)
	}
	if store.Orders("c1") != 1 {
		t.Fatal("expected one order")
	}
	if o := <-sub.C(); !o.Succeeded {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

// Without the cart row lock both transactions pass the order check; the unique order per cart
// must then fail the loser as a transaction failure, never create a second order.
func TestReconcileDuplicateOrderFailsTransaction(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	store.NoRowLocks = true

	var atCreate sync.WaitGroup
	atCreate.Add(2)
	store.Hook = func(op string) {
		if op == "CreateOrderFromCart" {
			atCreate.Done()
			atCreate.Wait()
		}
	}

	pub := &recordingPublisher{}
	engine := newEngine(store, pub)

	type result struct {
		outcome notify.Outcome
		err     error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			o, err := engine.Reconcile(context.Background(), "c1", amount("88.88"))
			results <- result{o, err}
		}()
	}

	var succeeded, failed int
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			switch {
			case r.err == nil && r.outcome.Succeeded:
				succeeded++
			case errors.Is(r.err, ErrTransactionFailure) && errors.Is(r.err, commerce.ErrOrderExists):
				if r.outcome.Reason != ReasonTransactionFailed {
					t.Fatalf("unexpected reason %q", r.outcome.Reason)
				}
				failed++
			default:
				t.Fatalf("unexpected result %+v %v", r.outcome, r.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("reconciliations did not finish")
		}
	}

	if succeeded != 1 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", succeeded, failed)
	}
	if store.Orders("c1") != 1 || store.Commits() != 1 {
		t.Fatalf("orders=%d commits=%d", store.Orders("c1"), store.Commits())
	}
	if len(pub.Outcomes()) != 2 {
		t.Fatalf("expected one outcome per notification, got %d", len(pub.Outcomes()))
	}
}

func TestReconcileCollectionSerializesOnRowLock(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCollection(commerce.PaymentCollection{ID: "42", AmountCents: 1000, Status: "not_paid"})

	inside := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.Hook = func(op string) {
		if op == "AuthorizePaymentCollection" {
			once.Do(func() {
				close(inside)
				<-release
			})
		}
	}
	engine := newEngine(store, &recordingPublisher{})

	first := make(chan error, 1)
	go func() {
		_, err := engine.Reconcile(context.Background(), "paycol_42", amount("10.00"))
		first <- err
	}()
	<-inside

	second := make(chan error, 1)
	go func() {
		_, err := engine.Reconcile(context.Background(), "paycol_42", amount("10.00"))
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("second reconciliation ran while the first held the collection")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := store.Count("AuthorizePaymentCollection"); got != 1 {
		t.Fatalf("expected one authorization, got %d", got)
	}
}

func TestIsPaymentCollection(t *testing.T) {
	tests := map[string]bool{
		"paycol_42":  true,
		"paycol_":    false,
		"cart_42":    false,
		"xpaycol_42": false,
		"":           false,
	}
	for id, want := range tests {
		if got := IsPaymentCollection(id); got != want {
			t.Errorf("IsPaymentCollection(%q) = %v, want %v", id, got, want)
		}
	}
	if CollectionID("paycol_42") != "42" {
		t.Fatalf("unexpected collection id %q", CollectionID("paycol_42"))
	}
}

func TestPendingPublishesWithoutTouchingStore(t *testing.T) {
	store := commercetest.NewStore()
	store.AddCart(commerce.Cart{ID: "c1", TotalCents: 8888})
	pub := &recordingPublisher{}

	outcome := newEngine(store, pub).Pending(context.Background(), "c1")
	if outcome.Succeeded || outcome.Reason != ReasonPending || outcome.Final() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := pub.Outcomes(); len(got) != 1 || got[0] != outcome {
		t.Fatalf("expected one published outcome, got %+v", got)
	}
	if store.TxCount() != 0 || len(store.Calls()) != 0 {
		t.Fatalf("store touched: %v", store.Calls())
	}
}
