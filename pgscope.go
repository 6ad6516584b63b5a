package pgscope

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickchristie/pgscope/internal/errprompt"
	"github.com/rickchristie/pgscope/internal/metrics"
	"github.com/rickchristie/pgscope/internal/protection"
	"github.com/rickchristie/pgscope/internal/sanitize"
	"github.com/rickchristie/pgscope/internal/sqlguard"
	"github.com/rickchristie/pgscope/internal/telemetry"
	"github.com/rickchristie/pgscope/internal/timeout"
)

// Operation names, used in logs, metrics, spans and MCP tool names.
const (
	OpListTables    = "list_tables"
	OpDescribeTable = "describe_table"
	OpReadTable     = "read_table"
	OpExecuteQuery  = "execute_query"
	OpGetTableStats = "get_table_stats"
	OpSearchTables  = "search_tables"
)

// Explorer is the core engine behind the six read-only operations.
// All exported methods are safe for concurrent use from multiple goroutines.
type Explorer struct {
	config         Config
	pool           *pgxpool.Pool
	semaphore      chan struct{}
	acquireTimeout time.Duration
	classifier     *sqlguard.Classifier
	protection     *protection.Checker
	sanitizer      *sanitize.Sanitizer
	errPrompts     *errprompt.Matcher
	timeoutMgr     *timeout.Manager
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	logger         zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	metrics bool
}

// WithMetrics enables Prometheus instrumentation, served by MetricsHandler.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}

// New creates a new Explorer.
// connString is the PostgreSQL connection string (must include credentials).
// Zero-valued settings take their defaults. Panics on invalid config.
// Returns error only for runtime failures (pool creation, eager ping).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger, opts ...Option) (*Explorer, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("pgscope: connString must be non-empty")
	}
	config = config.withDefaults()
	if config.Pool.MaxConns < 0 {
		panic("pgscope: pool.max_conns must be > 0")
	}
	if config.Pool.MinConns < 0 || config.Pool.MinConns > config.Pool.MaxConns {
		panic("pgscope: pool.min_conns must be between 0 and pool.max_conns")
	}
	if config.Pool.AcquireTimeoutSeconds < 0 {
		panic("pgscope: pool.acquire_timeout_seconds must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("pgscope: query.default_timeout_seconds must be > 0")
	}
	if config.Query.CatalogTimeoutSeconds < 0 {
		panic("pgscope: query.catalog_timeout_seconds must be > 0")
	}
	if config.Query.DefaultLimit < 0 || config.Query.MaxLimit < 0 {
		panic("pgscope: query.default_limit and query.max_limit must be > 0")
	}
	if config.Query.DefaultLimit > config.Query.MaxLimit {
		panic("pgscope: query.default_limit must not exceed query.max_limit")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pgscope: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pgscope: query.max_result_length must be > 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pgscope: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Initialize internal components ---

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		CatalogTimeout: time.Duration(config.Query.CatalogTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		panic(fmt.Sprintf("pgscope: %v", err))
	}
	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic(fmt.Sprintf("pgscope: %v", err))
	}
	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		panic(fmt.Sprintf("pgscope: %v", err))
	}

	// --- Configure pgxpool ---

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.Pool.MaxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	// A deadline sends a cancel request instead of closing the socket, so a
	// timed-out session goes back to the pool intact.
	poolConfig.ConnConfig.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:               pgConn,
			CancelRequestDelay: 0,
			DeadlineDelay:      2 * time.Second,
		}
	}

	if config.Pool.MaxConnLifetime != "" {
		poolConfig.MaxConnLifetime = mustParseDuration("pool.max_conn_lifetime", config.Pool.MaxConnLifetime)
	}
	if config.Pool.MaxConnIdleTime != "" {
		poolConfig.MaxConnIdleTime = mustParseDuration("pool.max_conn_idle_time", config.Pool.MaxConnIdleTime)
	}
	if config.Pool.HealthCheckPeriod != "" {
		poolConfig.HealthCheckPeriod = mustParseDuration("pool.health_check_period", config.Pool.HealthCheckPeriod)
	}

	// Session-level settings. The read-only default is a backstop under the
	// explicit READ ONLY transactions.
	timezone := config.Timezone
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
		}
		if timezone != "" {
			if _, err := conn.Exec(ctx, "SELECT set_config('timezone', $1, false)", timezone); err != nil {
				return fmt.Errorf("failed to SET timezone: %w", err)
			}
		}
		return nil
	}

	// --- Create pool ---

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	e := &Explorer{
		config:         config,
		pool:           pool,
		semaphore:      make(chan struct{}, config.Pool.MaxConns),
		acquireTimeout: time.Duration(config.Pool.AcquireTimeoutSeconds) * time.Second,
		classifier: sqlguard.NewClassifier(sqlguard.Config{
			DefaultLimit: config.Query.DefaultLimit,
			MaxLimit:     config.Query.MaxLimit,
		}),
		protection: protection.NewChecker(protection.Config{BlockedFunctions: config.BlockedFunctions}),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		tracer:     telemetry.Tracer(),
		logger:     logger,
	}

	if o.metrics {
		e.metrics = metrics.New()
		e.metrics.RegisterPool(func() metrics.PoolStats {
			s := pool.Stat()
			return metrics.PoolStats{
				AcquiredConns:     s.AcquiredConns(),
				IdleConns:         s.IdleConns(),
				TotalConns:        s.TotalConns(),
				MaxConns:          s.MaxConns(),
				EmptyAcquireCount: s.EmptyAcquireCount(),
			}
		})
	}

	if !config.Pool.LazyConnect {
		if err := e.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("initial connection check failed: %w", err)
		}
	}

	return e, nil
}

// Ping acquires a connection and checks that the server answers. The error
// is an *Error of kind ConnectionUnavailable on failure.
func (e *Explorer) Ping(ctx context.Context) error {
	release, err := e.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	pingCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()
	if err := e.pool.Ping(pingCtx); err != nil {
		return &Error{Kind: KindConnectionUnavailable, Message: connUnavailableMessage, Err: err}
	}
	return nil
}

// MetricsHandler serves Prometheus metrics, or nil if the Explorer was
// created without WithMetrics.
func (e *Explorer) MetricsHandler() http.Handler {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Handler()
}

// Close closes the connection pool. ctx is unused: pgxpool.Pool.Close does
// not support context-based shutdown.
func (e *Explorer) Close(ctx context.Context) {
	e.pool.Close()
}

func mustParseDuration(field, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("pgscope: invalid %s %q: %v", field, value, err))
	}
	return d
}

// startOp opens the span for one operation.
func (e *Explorer) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "pgscope."+op, trace.WithAttributes(attrs...))
}

// succeed records a successful operation. rows < 0 means not row-returning.
func (e *Explorer) succeed(op string, span trace.Span, start time.Time, rows int) {
	if rows >= 0 {
		span.SetAttributes(attribute.Int("pgscope.rows", rows))
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	e.metrics.ObserveOperation(op, metrics.OutcomeSuccess, time.Since(start), rows)
}

// fail converts err to an *Error, attaches error_prompts hints, and records
// it in logs, metrics and the span.
func (e *Explorer) fail(op string, span trace.Span, start time.Time, err error, budget time.Duration) *Error {
	pe := classifyError(err, budget)

	if prompt := e.errPrompts.Match(string(pe.Kind), pe.Message); prompt != "" {
		if pe.Hint != "" {
			pe.Hint += "\n"
		}
		pe.Hint += prompt
	}

	outcome := metrics.OutcomeError
	logEvent := e.logger.Error()
	switch pe.Kind {
	case KindInvalidIdentifier, KindNotASelectStatement, KindDangerousKeyword,
		KindMultipleStatements, KindInvalidArgument, KindTableNotFound:
		outcome = metrics.OutcomeRejected
		logEvent = e.logger.Warn()
	}
	if patterns := e.errPrompts.MatchedPatterns(string(pe.Kind), pe.Message); len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.
		Str("operation", op).
		Str("kind", string(pe.Kind)).
		Str("error", pe.Message).
		Dur("duration", time.Since(start)).
		Msg("operation failed")

	span.RecordError(pe)
	span.SetAttributes(attribute.String("pgscope.error_kind", string(pe.Kind)))
	span.SetStatus(codes.Error, pe.Message)
	span.End()

	e.metrics.ObserveOperation(op, outcome, time.Since(start), -1)
	e.metrics.ObserveError(op, string(pe.Kind))
	return pe
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
			Description: r.Description,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
