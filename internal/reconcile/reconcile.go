// Package reconcile applies a captured payment to its order exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/pass-ticketing/internal/events"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

// Paths a confirmation can take.
const (
	PathNone      = "none"
	PathProcedure = "procedure"
	PathFallback  = "fallback"
)

var (
	// ErrOrderNotFound indicates no order carries the gateway reference.
	ErrOrderNotFound = errors.New("reconcile: order not found")
	// ErrFallbackIncomplete indicates the fallback marked the order paid but
	// could not take stock. A redelivered callback only replays the paid order,
	// so the missing decrement has to be repaired by hand.
	ErrFallbackIncomplete = errors.New("reconcile: order confirmed without stock decrement")
)

// Store is the persistence required by the reconciler.
type Store interface {
	FindOrderByExternalRef(ctx context.Context, ref string) (store.Order, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentID string, passID int64) error
	MarkOrderSuccess(ctx context.Context, orderID uuid.UUID, paymentID string) error
	DecrementStock(ctx context.Context, passID int64) error
}

// Locker serialises work on one key across processes.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events after a confirmation commits.
type Emitter interface {
	Emit(ctx context.Context, topic, userID string, payload any) (events.Event, error)
}

// Result describes the outcome of a reconciliation.
type Result struct {
	OrderID          uuid.UUID
	UserID           uuid.UUID
	PassID           int64
	Status           store.OrderStatus
	AlreadyProcessed bool
	Path             string
}

// Reconciler moves pending orders to success when their payment is captured.
type Reconciler struct {
	Store   Store
	Events  Emitter
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Reconcile confirms the order matching externalRef using paymentRef as the
// authoritative payment id. Replays of an already confirmed order are
// side-effect free.
func (r *Reconciler) Reconcile(ctx context.Context, externalRef, paymentRef string) (Result, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("order.external_ref", externalRef))

	res, err := r.locked(ctx, externalRef, func(ctx context.Context) (Result, error) {
		return r.apply(ctx, externalRef, paymentRef)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("reconcile.path", res.Path), attribute.Bool("reconcile.replay", res.AlreadyProcessed))

	if !res.AlreadyProcessed {
		r.notify(ctx, res)
	}
	return res, nil
}

// locked runs fn under the per-reference lock. The lock only narrows the
// window for concurrent deliveries; when Redis is unavailable fn runs anyway
// and the status guard in the store keeps the transition single.
func (r *Reconciler) locked(ctx context.Context, ref string, fn func(context.Context) (Result, error)) (Result, error) {
	if r.Locker == nil {
		return fn(ctx)
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	var (
		res Result
		ran bool
	)
	err := r.Locker.WithLock(ctx, "reconcile:"+ref, ttl, func(ctx context.Context) error {
		ran = true
		var fnErr error
		res, fnErr = fn(ctx)
		return fnErr
	})
	if ran {
		return res, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	r.Logger.Warn().Err(err).Str("external_ref", ref).Msg("reconcile lock unavailable, continuing on status guard")
	return fn(ctx)
}

func (r *Reconciler) apply(ctx context.Context, externalRef, paymentRef string) (Result, error) {
	order, err := r.Store.FindOrderByExternalRef(ctx, externalRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.Logger.Warn().Str("external_ref", externalRef).Str("payment_ref", paymentRef).Msg("no order matches gateway reference")
			obs.CountReconcile(PathNone, "not_found")
			return Result{}, ErrOrderNotFound
		}
		return Result{}, fmt.Errorf("find order: %w", err)
	}

	res := Result{OrderID: order.ID, UserID: order.UserID, PassID: order.PassID, Status: store.OrderSuccess, Path: PathNone}
	if order.Status == store.OrderSuccess {
		res.AlreadyProcessed = true
		obs.CountReconcile(PathNone, "replay")
		return res, nil
	}

	err = r.Store.ConfirmPayment(ctx, order.ID, paymentRef, order.PassID)
	switch {
	case err == nil:
		res.Path = PathProcedure
		obs.CountReconcile(PathProcedure, "confirmed")
		return res, nil
	case errors.Is(err, store.ErrNotApplied):
		res.Path = PathProcedure
		res.AlreadyProcessed = true
		obs.CountReconcile(PathProcedure, "replay")
		return res, nil
	case errors.Is(err, store.ErrProcedureUnavailable):
		return r.fallback(ctx, order, paymentRef, res)
	default:
		obs.CountReconcile(PathProcedure, "error")
		return Result{}, fmt.Errorf("confirm payment: %w", err)
	}
}

// fallback runs when confirm_payment is not installed. The guarded status
// update lets exactly one delivery through, and the decrement is a single
// statement, but the two are separate transactions: a failure between them
// leaves a paid order whose stock was never taken.
func (r *Reconciler) fallback(ctx context.Context, order store.Order, paymentRef string, res Result) (Result, error) {
	res.Path = PathFallback
	r.Logger.Warn().Str("order_id", order.ID.String()).Msg("confirm_payment unavailable, using non-atomic fallback")

	if err := r.Store.MarkOrderSuccess(ctx, order.ID, paymentRef); err != nil {
		if errors.Is(err, store.ErrNotApplied) {
			res.AlreadyProcessed = true
			obs.CountReconcile(PathFallback, "replay")
			return res, nil
		}
		obs.CountReconcile(PathFallback, "error")
		return Result{}, fmt.Errorf("mark order success: %w", err)
	}
	if err := r.Store.DecrementStock(ctx, order.PassID); err != nil {
		obs.CountReconcile(PathFallback, "partial")
		r.Logger.Error().Err(err).
			Str("order_id", order.ID.String()).
			Int64("pass_id", order.PassID).
			Msg("order confirmed but stock decrement failed")
		return res, fmt.Errorf("%w: %v", ErrFallbackIncomplete, err)
	}
	obs.CountReconcile(PathFallback, "confirmed")
	return res, nil
}

func (r *Reconciler) notify(ctx context.Context, res Result) {
	if r.Events == nil {
		return
	}
	update := events.OrderUpdate{OrderID: res.OrderID.String(), Status: string(res.Status), PassID: res.PassID}
	if _, err := r.Events.Emit(ctx, events.TopicOrderUpdate, res.UserID.String(), update); err != nil {
		r.Logger.Warn().Err(err).Str("order_id", update.OrderID).Msg("order update notification failed")
	}
}
