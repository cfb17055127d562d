package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	err  error
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, v := range r.vals {
		switch d := dest[i].(type) {
		case *bool:
			*d = v.(bool)
		}
	}
	return nil
}

type fakeDB struct {
	row     fakeRow
	tag     pgconn.CommandTag
	execErr error
	lastSQL string
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("not supported") }

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastSQL = sql
	return f.tag, f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.lastSQL = sql
	return f.row
}

func TestConfirmPaymentMapsMissingProcedure(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: &pgconn.PgError{Code: "42883", Message: "function confirm_payment does not exist"}}}
	err := NewPostgres(db).ConfirmPayment(context.Background(), uuid.New(), "pay_1", 2)
	require.ErrorIs(t, err, ErrProcedureUnavailable)
}

func TestConfirmPaymentNotApplied(t *testing.T) {
	db := &fakeDB{row: fakeRow{vals: []any{false}}}
	err := NewPostgres(db).ConfirmPayment(context.Background(), uuid.New(), "pay_1", 2)
	require.ErrorIs(t, err, ErrNotApplied)

	db.row = fakeRow{vals: []any{true}}
	require.NoError(t, NewPostgres(db).ConfirmPayment(context.Background(), uuid.New(), "pay_1", 2))
	require.Contains(t, db.lastSQL, "confirm_payment")
}

func TestConfirmPaymentOtherErrorsPropagate(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: &pgconn.PgError{Code: "40001"}}}
	err := NewPostgres(db).ConfirmPayment(context.Background(), uuid.New(), "pay_1", 2)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrProcedureUnavailable)
}

func TestMarkOrderSuccessGuard(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	require.ErrorIs(t, NewPostgres(db).MarkOrderSuccess(context.Background(), uuid.New(), "pay"), ErrNotApplied)
	require.Contains(t, db.lastSQL, "status = 'pending'")

	db.tag = pgconn.NewCommandTag("UPDATE 1")
	require.NoError(t, NewPostgres(db).MarkOrderSuccess(context.Background(), uuid.New(), "pay"))
}

func TestDecrementStockSingleStatement(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	require.NoError(t, NewPostgres(db).DecrementStock(context.Background(), 2))
	require.Contains(t, db.lastSQL, "greatest(stock - 1, 0)")

	db.tag = pgconn.NewCommandTag("UPDATE 0")
	require.ErrorIs(t, NewPostgres(db).DecrementStock(context.Background(), 2), ErrNotFound)
}

func TestGetPassNotFound(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := NewPostgres(db).GetPass(context.Background(), 9)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckStockMapping(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: &pgconn.PgError{Code: "42883"}}}
	require.ErrorIs(t, NewPostgres(db).CheckStock(context.Background(), 1, 0), ErrProcedureUnavailable)
	db.row = fakeRow{vals: []any{false}}
	require.ErrorIs(t, NewPostgres(db).CheckStock(context.Background(), 1, 0), ErrStaleVersion)
}

func TestSchemaProvisionsInsertRole(t *testing.T) {
	role := strings.Index(Schema, "create role authenticated nologin")
	membership := strings.Index(Schema, "grant authenticated to %I")
	grants := strings.Index(Schema, "grant select, insert on orders to authenticated")
	policy := strings.Index(Schema, "create policy orders_owner_insert")

	require.Positive(t, role)
	require.Greater(t, membership, role)
	require.Greater(t, grants, membership)
	require.Greater(t, policy, grants, "policies name the role, so it must exist first")
}
