package database

import (
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const spanKey = "otel:span"

// TracingPlugin 为每条 SQL 创建一个 client span，不记录参数值（凭证列是明文 token）
type TracingPlugin struct {
	tracer trace.Tracer
}

func NewTracingPlugin(serviceName string) *TracingPlugin {
	if serviceName == "" {
		serviceName = "wearsync"
	}
	return &TracingPlugin{tracer: otel.Tracer(serviceName + ".gorm")}
}

func (p *TracingPlugin) Name() string {
	return "otel_tracing"
}

func (p *TracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("db.select")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after); err != nil {
		return err
	}
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("db.insert")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("db.update")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("db.raw")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after)
}

func (p *TracingPlugin) before(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		ctx, span := p.tracer.Start(tx.Statement.Context, operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				attribute.String("db.table", tx.Statement.Table),
			),
		)
		tx.Statement.Context = ctx
		tx.InstanceSet(spanKey, span)
	}
}

func (p *TracingPlugin) after(tx *gorm.DB) {
	v, ok := tx.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	stmt := tx.Statement.SQL.String()
	if len(stmt) > 500 {
		stmt = stmt[:500] + "..."
	}
	span.SetAttributes(
		semconv.DBStatement(strings.TrimSpace(stmt)),
		attribute.Int64("db.rows_affected", tx.Statement.RowsAffected),
	)

	if tx.Error != nil && tx.Error != gorm.ErrRecordNotFound {
		span.RecordError(tx.Error)
		span.SetStatus(codes.Error, tx.Error.Error())
	}
}
