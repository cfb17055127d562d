package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pass-ticketing/internal/events"
	"github.com/noah-isme/pass-ticketing/internal/lock"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	mem   *store.Memory
	rec   *recorder
	svc   *Reconciler
	user  uuid.UUID
	order store.Order
}

func newFixture(t *testing.T, stock int32) fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.PutPass(store.Pass{ID: 2, Type: "Gold", Price: 1000, Stock: stock})
	user := uuid.New()
	order, err := mem.CreatePendingOrder(context.Background(), store.NewOrder{UserID: user, PassID: 2, ExternalPaymentRef: "order_gold"})
	require.NoError(t, err)
	rec := &recorder{}
	svc := &Reconciler{
		Store:  mem,
		Events: &events.Bus{Notifiers: []events.Notifier{rec}},
		Logger: zerolog.Nop(),
	}
	return fixture{mem: mem, rec: rec, svc: svc, user: user, order: order}
}

func (f fixture) stock(t *testing.T) int32 {
	t.Helper()
	p, err := f.mem.GetPass(context.Background(), 2)
	require.NoError(t, err)
	return p.Stock
}

func TestReconcileConfirmsAndNotifies(t *testing.T) {
	f := newFixture(t, 2)
	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.Equal(t, f.order.ID, res.OrderID)
	require.Equal(t, store.OrderSuccess, res.Status)
	require.Equal(t, PathProcedure, res.Path)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, int32(1), f.stock(t))

	stored, _ := f.mem.Order(f.order.ID)
	require.Equal(t, "pay_1", stored.PaymentID)

	require.Equal(t, 1, f.rec.count())
	ev := f.rec.events[0]
	require.Equal(t, events.TopicOrderUpdate, ev.Topic)
	require.Equal(t, f.user.String(), ev.UserID)
	require.JSONEq(t, `{"order_id":"`+f.order.ID.String()+`","status":"success","pass_id":2}`, string(ev.Payload))
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)

	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)
	require.Equal(t, store.OrderSuccess, res.Status)
	require.Equal(t, int32(1), f.stock(t))
	require.Equal(t, 1, f.rec.count(), "replays do not notify")
}

func TestReconcileDistinctOrdersFloorAtZero(t *testing.T) {
	mem := store.NewMemory()
	mem.PutPass(store.Pass{ID: 1, Type: "Silver", Price: 500, Stock: 3})
	svc := &Reconciler{Store: mem, Logger: zerolog.Nop()}
	refs := []string{"o1", "o2", "o3", "o4", "o5"}
	for _, ref := range refs {
		_, err := mem.CreatePendingOrder(context.Background(), store.NewOrder{UserID: uuid.New(), PassID: 1, ExternalPaymentRef: ref})
		require.NoError(t, err)
	}
	for _, ref := range refs {
		_, err := svc.Reconcile(context.Background(), ref, "pay_"+ref)
		require.NoError(t, err)
	}
	p, _ := mem.GetPass(context.Background(), 1)
	require.Zero(t, p.Stock)
	require.Equal(t, int64(len(refs)), p.RowVersion)
}

func TestReconcileUnknownOrder(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.svc.Reconcile(context.Background(), "order_unknown", "pay_1")
	require.ErrorIs(t, err, ErrOrderNotFound)
	require.Equal(t, int32(2), f.stock(t))
	stored, _ := f.mem.Order(f.order.ID)
	require.Equal(t, store.OrderPending, stored.Status)
	require.Zero(t, f.rec.count())
}

func TestReconcileConcurrentDuplicatesDecrementOnce(t *testing.T) {
	for _, procedure := range []bool{true, false} {
		f := newFixture(t, 5)
		f.mem.ProcedureUnavailable = !procedure

		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
				require.NoError(t, err)
				if !res.AlreadyProcessed {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, fresh)
		require.Equal(t, int32(4), f.stock(t))
		require.Equal(t, 1, f.rec.count())
	}
}

func TestReconcileFallbackPath(t *testing.T) {
	f := newFixture(t, 2)
	f.mem.ProcedureUnavailable = true
	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.Equal(t, PathFallback, res.Path)
	require.Equal(t, int32(1), f.stock(t))

	res, err = f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)
	require.Equal(t, int32(1), f.stock(t))
}

// The fallback runs two statements outside one transaction. A failure after
// the status update leaves the order paid with stock untouched, and the
// gateway's redelivery cannot repair it.
func TestReconcileFallbackIsNotAtomic(t *testing.T) {
	f := newFixture(t, 2)
	f.mem.ProcedureUnavailable = true
	f.mem.DecrementErr = errors.New("connection reset")

	_, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.ErrorIs(t, err, ErrFallbackIncomplete)

	stored, _ := f.mem.Order(f.order.ID)
	require.Equal(t, store.OrderSuccess, stored.Status)
	require.Equal(t, int32(2), f.stock(t))

	f.mem.DecrementErr = nil
	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.True(t, res.AlreadyProcessed)
	require.Equal(t, int32(2), f.stock(t), "lost decrement stays lost")
}

func TestReconcileNotifyFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, 2)
	f.rec.err = errors.New("push channel down")
	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, int32(1), f.stock(t))
}

func TestReconcileWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, 3)
	f.svc.Locker = lock.Locker{R: client, RetryBackoff: time.Millisecond}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(2), f.stock(t))
	require.False(t, mr.Exists("lock:reconcile:order_gold"))
}

func TestReconcileContinuesWhenLockBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	f := newFixture(t, 3)
	f.svc.Locker = lock.Locker{R: client}
	res, err := f.svc.Reconcile(context.Background(), "order_gold", "pay_1")
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, int32(2), f.stock(t))
}
