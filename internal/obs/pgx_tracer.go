package obs

import (
	"context"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttr = 300

var procCall = regexp.MustCompile(`(?i)\b(confirm_payment|check_stock)\s*\(`)

// PGXTracer emits one span per statement. Calls to the stored procedures get
// their own span name so confirm/stock latency stands out from plain queries.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := SQLOperation(data.SQL)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx."+op, trace.WithSpanKind(trace.SpanKindClient))
	stmt := strings.TrimSpace(data.SQL)
	if len(stmt) > maxStatementAttr {
		stmt = stmt[:maxStatementAttr] + "..."
	}
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", stmt),
	)
	return ctx
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}

// SQLOperation names a statement for span labels: the procedure name for
// confirm_payment/check_stock calls, else the leading keyword.
func SQLOperation(sql string) string {
	if m := procCall.FindStringSubmatch(sql); m != nil {
		return strings.ToLower(m[1])
	}
	if fields := strings.Fields(sql); len(fields) > 0 {
		return strings.ToLower(fields[0])
	}
	return "query"
}
