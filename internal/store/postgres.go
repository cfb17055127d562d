package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/pass-ticketing/internal/obs"
)

// SQLSTATE undefined_function, raised when a procedure is not installed.
const codeUndefinedFunction = "42883"

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the relational store. Service-role statements run on the pool
// directly; user-originated writes run inside a transaction under the
// authenticated role so row-level policies apply.
type Postgres struct {
	db DB
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPool connects a pgx pool with query tracing enabled.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

func isUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUndefinedFunction
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPGUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

const passColumns = `id, type, price, stock, row_version`

func scanPass(row pgx.Row) (Pass, error) {
	var p Pass
	err := row.Scan(&p.ID, &p.Type, &p.Price, &p.Stock, &p.RowVersion)
	return p, err
}

// ListPasses returns every pass, most expensive first.
func (s *Postgres) ListPasses(ctx context.Context) ([]Pass, error) {
	rows, err := s.db.Query(ctx, `select `+passColumns+` from passes order by price desc`)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()
	var out []Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPass returns one pass or ErrNotFound.
func (s *Postgres) GetPass(ctx context.Context, id int64) (Pass, error) {
	p, err := scanPass(s.db.QueryRow(ctx, `select `+passColumns+` from passes where id = $1`, id))
	if err != nil {
		return Pass{}, notFound(err)
	}
	return p, nil
}

// CheckStock runs the advisory check_stock procedure. ErrStaleVersion means the
// pass moved on or sold out since the caller read it.
func (s *Postgres) CheckStock(ctx context.Context, passID, version int64) error {
	var ok bool
	err := s.db.QueryRow(ctx, `select check_stock($1, $2)`, passID, version).Scan(&ok)
	if err != nil {
		if isUndefinedFunction(err) {
			return ErrProcedureUnavailable
		}
		return fmt.Errorf("check stock: %w", err)
	}
	if !ok {
		return ErrStaleVersion
	}
	return nil
}

// SuccessfulPasses returns the passes the user holds through confirmed orders.
func (s *Postgres) SuccessfulPasses(ctx context.Context, userID uuid.UUID) ([]Pass, error) {
	rows, err := s.db.Query(ctx, `
select p.id, p.type, p.price, p.stock, p.row_version
from orders o
join passes p on p.id = o.pass_id
where o.user_id = $1 and o.status = 'success'
order by o.created_at desc`, toPGUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list successful passes: %w", err)
	}
	defer rows.Close()
	var out []Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePendingOrder inserts a pending order as the owning user.
func (s *Postgres) CreatePendingOrder(ctx context.Context, in NewOrder) (Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claims, err := json.Marshal(map[string]string{"sub": in.UserID.String(), "role": "authenticated"})
	if err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `select set_config('request.jwt.claims', $1, true)`, string(claims)); err != nil {
		return Order{}, fmt.Errorf("set claims: %w", err)
	}
	if _, err := tx.Exec(ctx, `set local role authenticated`); err != nil {
		return Order{}, fmt.Errorf("set role: %w", err)
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx, `
insert into orders (user_id, pass_id, external_payment_ref, status)
values ($1, $2, $3, 'pending')
returning id, created_at`, toPGUUID(in.UserID), in.PassID, in.ExternalPaymentRef).Scan(&id, &createdAt)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return Order{
		ID:                 fromPGUUID(id),
		UserID:             in.UserID,
		PassID:             in.PassID,
		ExternalPaymentRef: in.ExternalPaymentRef,
		Status:             OrderPending,
		CreatedAt:          createdAt.Time,
	}, nil
}

const orderColumns = `o.id, o.user_id, o.pass_id, o.external_payment_ref, o.payment_id, o.status, o.created_at`

func scanOrder(row pgx.Row, extra ...any) (Order, error) {
	var (
		o         Order
		id        pgtype.UUID
		userID    pgtype.UUID
		paymentID pgtype.Text
		status    string
		createdAt pgtype.Timestamptz
	)
	dest := append([]any{&id, &userID, &o.PassID, &o.ExternalPaymentRef, &paymentID, &status, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Order{}, err
	}
	o.ID = fromPGUUID(id)
	o.UserID = fromPGUUID(userID)
	o.PaymentID = paymentID.String
	o.Status = OrderStatus(status)
	o.CreatedAt = createdAt.Time
	return o, nil
}

// ListOrders returns the user's orders joined with their pass, newest first.
func (s *Postgres) ListOrders(ctx context.Context, userID uuid.UUID) ([]OrderWithPass, error) {
	rows, err := s.db.Query(ctx, `select `+orderColumns+`, p.id, p.type, p.price
from orders o
join passes p on p.id = o.pass_id
where o.user_id = $1
order by o.created_at desc`, toPGUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []OrderWithPass
	for rows.Next() {
		var item OrderWithPass
		o, err := scanOrder(rows, &item.Pass.ID, &item.Pass.Type, &item.Pass.Price)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		item.Order = o
		out = append(out, item)
	}
	return out, rows.Err()
}

// FindOrderByExternalRef looks an order up by the gateway order id.
func (s *Postgres) FindOrderByExternalRef(ctx context.Context, ref string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `select `+orderColumns+` from orders o where o.external_payment_ref = $1`, ref))
	if err != nil {
		return Order{}, notFound(err)
	}
	return o, nil
}

// ConfirmPayment runs the confirm_payment procedure which, in one transaction
// guarded by status = 'pending', marks the order paid and takes one unit of stock.
// ErrNotApplied means the order was no longer pending.
func (s *Postgres) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentID string, passID int64) error {
	var applied bool
	err := s.db.QueryRow(ctx, `select confirm_payment($1, $2, $3)`, toPGUUID(orderID), paymentID, passID).Scan(&applied)
	if err != nil {
		if isUndefinedFunction(err) {
			return ErrProcedureUnavailable
		}
		return fmt.Errorf("confirm payment: %w", err)
	}
	if !applied {
		return ErrNotApplied
	}
	return nil
}

// MarkOrderSuccess moves a pending order to success. Only one concurrent caller
// wins; the rest receive ErrNotApplied.
func (s *Postgres) MarkOrderSuccess(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	tag, err := s.db.Exec(ctx, `
update orders set status = 'success', payment_id = $2
where id = $1 and status = 'pending'`, toPGUUID(orderID), paymentID)
	if err != nil {
		return fmt.Errorf("mark order success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotApplied
	}
	return nil
}

// DecrementStock takes one unit of stock, floored at zero, in a single statement.
func (s *Postgres) DecrementStock(ctx context.Context, passID int64) error {
	tag, err := s.db.Exec(ctx, `
update passes set stock = greatest(stock - 1, 0), row_version = row_version + 1
where id = $1`, passID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const eventColumns = `id, name, description, venue, start_date, end_date, is_active`

func scanEvent(row pgx.Row) (Event, error) {
	var (
		e           Event
		id          pgtype.UUID
		description pgtype.Text
		venue       pgtype.Text
		start, end  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &e.Name, &description, &venue, &start, &end, &e.IsActive); err != nil {
		return Event{}, err
	}
	e.ID = fromPGUUID(id).String()
	e.Description = description.String
	e.Venue = venue.String
	e.StartDate = timePtr(start)
	e.EndDate = timePtr(end)
	return e, nil
}

// ListActiveEvents returns active events ordered by start date.
func (s *Postgres) ListActiveEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.Query(ctx, `select `+eventColumns+` from events where is_active order by start_date asc nulls last`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEvent returns one event or ErrNotFound.
func (s *Postgres) GetEvent(ctx context.Context, id string) (Event, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Event{}, ErrNotFound
	}
	e, err := scanEvent(s.db.QueryRow(ctx, `select `+eventColumns+` from events where id = $1`, toPGUUID(parsed)))
	if err != nil {
		return Event{}, notFound(err)
	}
	return e, nil
}

// GetProfile returns the user's profile or ErrNotFound.
func (s *Postgres) GetProfile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	var name, phone, org, year pgtype.Text
	err := s.db.QueryRow(ctx, `select name, phone, org, year from profiles where id = $1`, toPGUUID(userID)).
		Scan(&name, &phone, &org, &year)
	if err != nil {
		return Profile{}, notFound(err)
	}
	return Profile{ID: userID, Name: name.String, Phone: phone.String, Org: org.String, Year: year.String}, nil
}

// UpsertProfile writes only the non-empty fields of p and returns the stored row.
func (s *Postgres) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	var name, phone, org, year pgtype.Text
	err := s.db.QueryRow(ctx, `
insert into profiles (id, name, phone, org, year)
values ($1, nullif($2, ''), nullif($3, ''), nullif($4, ''), nullif($5, ''))
on conflict (id) do update set
  name = coalesce(excluded.name, profiles.name),
  phone = coalesce(excluded.phone, profiles.phone),
  org = coalesce(excluded.org, profiles.org),
  year = coalesce(excluded.year, profiles.year),
  updated_at = now()
returning name, phone, org, year`, toPGUUID(p.ID), p.Name, p.Phone, p.Org, p.Year).Scan(&name, &phone, &org, &year)
	if err != nil {
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return Profile{ID: p.ID, Name: name.String, Phone: phone.String, Org: org.String, Year: year.String}, nil
}

// Touch runs a trivial read to keep the database active.
func (s *Postgres) Touch(ctx context.Context) error {
	var n int
	return s.db.QueryRow(ctx, `select count(*) from (select id from events limit 1) e`).Scan(&n)
}
