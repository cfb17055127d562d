package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process store used by tests and local runs. It mirrors the
// Postgres semantics, including the guarded confirmation and the stock floor.
type Memory struct {
	mu       sync.Mutex
	passes   map[int64]Pass
	orders   map[uuid.UUID]Order
	events   map[string]Event
	profiles map[uuid.UUID]Profile
	now      func() time.Time
	last     time.Time

	// ProcedureUnavailable makes ConfirmPayment and CheckStock report
	// ErrProcedureUnavailable, exercising the fallback paths.
	ProcedureUnavailable bool
	// DecrementErr, when set, is returned by DecrementStock without touching stock.
	DecrementErr error
	// TouchErr, when set, is returned by Touch.
	TouchErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		passes:   make(map[int64]Pass),
		orders:   make(map[uuid.UUID]Order),
		events:   make(map[string]Event),
		profiles: make(map[uuid.UUID]Profile),
		now:      time.Now,
	}
}

// PutPass inserts or replaces a pass.
func (m *Memory) PutPass(p Pass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[p.ID] = p
}

// PutOrder inserts or replaces an order.
func (m *Memory) PutOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	m.orders[o.ID] = o
}

// PutEvent inserts or replaces an event.
func (m *Memory) PutEvent(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

// Order returns a stored order by id.
func (m *Memory) Order(id uuid.UUID) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// OrderCount returns the number of stored orders.
func (m *Memory) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *Memory) ListPasses(context.Context) ([]Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pass, 0, len(m.passes))
	for _, p := range m.passes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out, nil
}

func (m *Memory) GetPass(_ context.Context, id int64) (Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passes[id]
	if !ok {
		return Pass{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) CheckStock(_ context.Context, passID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProcedureUnavailable {
		return ErrProcedureUnavailable
	}
	p, ok := m.passes[passID]
	if !ok || p.Stock <= 0 || p.RowVersion != version {
		return ErrStaleVersion
	}
	return nil
}

func (m *Memory) SuccessfulPasses(_ context.Context, userID uuid.UUID) ([]Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Pass
	for _, o := range m.sortedOrdersLocked() {
		if o.UserID != userID || o.Status != OrderSuccess {
			continue
		}
		if p, ok := m.passes[o.PassID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CreatePendingOrder(_ context.Context, in NewOrder) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := m.now()
	if !created.After(m.last) {
		created = m.last.Add(time.Microsecond)
	}
	m.last = created
	o := Order{
		ID:                 uuid.New(),
		UserID:             in.UserID,
		PassID:             in.PassID,
		ExternalPaymentRef: in.ExternalPaymentRef,
		Status:             OrderPending,
		CreatedAt:          created,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *Memory) sortedOrdersLocked() []Order {
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListOrders(_ context.Context, userID uuid.UUID) ([]OrderWithPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderWithPass
	for _, o := range m.sortedOrdersLocked() {
		if o.UserID != userID {
			continue
		}
		out = append(out, OrderWithPass{Order: o, Pass: m.passes[o.PassID].Summary()})
	}
	return out, nil
}

func (m *Memory) FindOrderByExternalRef(_ context.Context, ref string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ExternalPaymentRef == ref {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (m *Memory) ConfirmPayment(_ context.Context, orderID uuid.UUID, paymentID string, passID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProcedureUnavailable {
		return ErrProcedureUnavailable
	}
	if err := m.markLocked(orderID, paymentID); err != nil {
		return err
	}
	m.decrementLocked(passID)
	return nil
}

func (m *Memory) MarkOrderSuccess(_ context.Context, orderID uuid.UUID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markLocked(orderID, paymentID)
}

func (m *Memory) markLocked(orderID uuid.UUID, paymentID string) error {
	o, ok := m.orders[orderID]
	if !ok || o.Status != OrderPending {
		return ErrNotApplied
	}
	o.Status = OrderSuccess
	o.PaymentID = paymentID
	m.orders[orderID] = o
	return nil
}

func (m *Memory) DecrementStock(_ context.Context, passID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DecrementErr != nil {
		return m.DecrementErr
	}
	if _, ok := m.passes[passID]; !ok {
		return ErrNotFound
	}
	m.decrementLocked(passID)
	return nil
}

func (m *Memory) decrementLocked(passID int64) {
	p, ok := m.passes[passID]
	if !ok {
		return
	}
	if p.Stock > 0 {
		p.Stock--
	}
	p.RowVersion++
	m.passes[passID] = p
}

func (m *Memory) ListActiveEvents(context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.IsActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartDate, out[j].StartDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) GetProfile(_ context.Context, userID uuid.UUID) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpsertProfile(_ context.Context, in Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[in.ID]
	p.ID = in.ID
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Phone != "" {
		p.Phone = in.Phone
	}
	if in.Org != "" {
		p.Org = in.Org
	}
	if in.Year != "" {
		p.Year = in.Year
	}
	m.profiles[in.ID] = p
	return p, nil
}

func (m *Memory) Touch(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TouchErr
}
