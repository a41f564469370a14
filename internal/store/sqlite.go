package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"futures_agent/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository persists trading cycle executions and the operations the
// decision agent issued during them.
type Repository interface {
	Init(ctx context.Context) error
	Close() error

	CreateExecution(ctx context.Context, id string, currencies []string, createdAt time.Time) error
	FinalizeExecution(ctx context.Context, result domain.CycleResult) error
	GetExecution(ctx context.Context, id string) (domain.CycleResult, error)
	ListExecutions(ctx context.Context, page, pageSize int) ([]domain.CycleResult, error)
	CountExecutions(ctx context.Context) (int, error)
	LatestSuccessfulExecution(ctx context.Context) (*domain.CycleResult, error)

	SaveOperation(ctx context.Context, op domain.Operation) error
	FinalizeOperation(ctx context.Context, op domain.Operation) error
	ListOperations(ctx context.Context, executionID string) ([]domain.Operation, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			currencies TEXT NOT NULL,
			balance_info TEXT,
			market_data TEXT,
			open_positions TEXT,
			daily_pnl TEXT,
			system_prompt TEXT,
			agent_response TEXT,
			strategy_for_next_execution TEXT,
			error_message TEXT,
			execution_duration REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			operation_type TEXT NOT NULL,
			status TEXT NOT NULL,
			currency TEXT NOT NULL,
			quantity REAL,
			leverage INTEGER,
			stop_loss_price REAL,
			take_profit_price REAL,
			main_order_id INTEGER,
			stop_loss_order_id INTEGER,
			take_profit_order_id INTEGER,
			result_data TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_execution_id ON operations(execution_id);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			if isAlterTableDuplicate(err) {
				continue
			}
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateExecution inserts the RUNNING row at cycle start so a crashed
// process still leaves a trace.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, id string, currencies []string, createdAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO executions (id, status, currencies, created_at) VALUES (?, ?, ?, ?)`,
		id,
		string(domain.CycleStatusRunning),
		toJSON(currencies),
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// FinalizeExecution writes the complete cycle result over the RUNNING row.
func (r *SQLiteRepository) FinalizeExecution(ctx context.Context, result domain.CycleResult) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?,
			currencies = ?,
			balance_info = ?,
			market_data = ?,
			open_positions = ?,
			daily_pnl = ?,
			system_prompt = ?,
			agent_response = ?,
			strategy_for_next_execution = ?,
			error_message = ?,
			execution_duration = ?
		WHERE id = ?`,
		string(result.Status),
		toJSON(result.Currencies),
		toJSON(result.Balance),
		toJSON(result.MarketData),
		toJSON(result.Positions),
		toJSON(result.DailyPnL),
		nullableString(result.SystemPrompt),
		nullableString(result.Narrative),
		nullableString(result.NextStrategy),
		nullableString(result.ErrorMessage),
		result.Duration,
		result.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	return nil
}

const executionColumns = `id, status, currencies,
	COALESCE(balance_info, ''), COALESCE(market_data, ''), COALESCE(open_positions, ''), COALESCE(daily_pnl, ''),
	COALESCE(system_prompt, ''), COALESCE(agent_response, ''), COALESCE(strategy_for_next_execution, ''),
	COALESCE(error_message, ''), execution_duration, created_at`

func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (domain.CycleResult, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	result, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return result, fmt.Errorf("execution %s not found", id)
	}
	return result, err
}

func (r *SQLiteRepository) ListExecutions(ctx context.Context, page, pageSize int) ([]domain.CycleResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 15
	}
	offset := (page - 1) * pageSize

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	results := make([]domain.CycleResult, 0, pageSize)
	for rows.Next() {
		result, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (r *SQLiteRepository) CountExecutions(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&count)
	return count, err
}

// LatestSuccessfulExecution feeds the previous-strategy memory of the next
// cycle. Returns nil when no successful cycle exists yet.
func (r *SQLiteRepository) LatestSuccessfulExecution(ctx context.Context) (*domain.CycleResult, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE status = ? ORDER BY created_at DESC LIMIT 1`,
		string(domain.CycleStatusSuccess))
	result, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.CycleResult, error) {
	var result domain.CycleResult
	var status, currencies, balance, marketData, positions, dailyPnL string

	err := row.Scan(
		&result.ID, &status, &currencies,
		&balance, &marketData, &positions, &dailyPnL,
		&result.SystemPrompt, &result.Narrative, &result.NextStrategy,
		&result.ErrorMessage, &result.Duration, &result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, err
		}
		return result, fmt.Errorf("scan execution: %w", err)
	}

	result.Status = domain.CycleStatus(status)
	fromJSON(currencies, &result.Currencies)
	fromJSON(balance, &result.Balance)
	fromJSON(marketData, &result.MarketData)
	fromJSON(positions, &result.Positions)
	fromJSON(dailyPnL, &result.DailyPnL)
	return result, nil
}

func (r *SQLiteRepository) SaveOperation(ctx context.Context, op domain.Operation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (
			id, execution_id, operation_type, status, currency,
			quantity, leverage, stop_loss_price, take_profit_price,
			main_order_id, stop_loss_order_id, take_profit_order_id,
			result_data, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.ExecutionID, string(op.Type), string(op.Status), op.Currency,
		nullableFloat(op.Quantity), nullableInt(op.Leverage),
		nullableFloat(op.StopLossPrice), nullableFloat(op.TakeProfitPrice),
		nullableInt64(op.MainOrderID), nullableInt64(op.StopLossOrderID), nullableInt64(op.TakeProfitOrderID),
		nullableString(op.ResultData), nullableString(op.ErrorMessage),
		op.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FinalizeOperation(ctx context.Context, op domain.Operation) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE operations SET
			status = ?,
			main_order_id = ?,
			stop_loss_order_id = ?,
			take_profit_order_id = ?,
			result_data = ?,
			error_message = ?
		WHERE id = ?`,
		string(op.Status),
		nullableInt64(op.MainOrderID), nullableInt64(op.StopLossOrderID), nullableInt64(op.TakeProfitOrderID),
		nullableString(op.ResultData), nullableString(op.ErrorMessage),
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize operation: %w", err)
	}
	return nil
}

// ListOperations returns operations for one execution, or all when
// executionID is empty, newest first.
func (r *SQLiteRepository) ListOperations(ctx context.Context, executionID string) ([]domain.Operation, error) {
	query := `
		SELECT id, execution_id, operation_type, status, currency,
		       COALESCE(quantity, 0), COALESCE(leverage, 0),
		       COALESCE(stop_loss_price, 0), COALESCE(take_profit_price, 0),
		       COALESCE(main_order_id, 0), COALESCE(stop_loss_order_id, 0), COALESCE(take_profit_order_id, 0),
		       COALESCE(result_data, ''), COALESCE(error_message, ''), created_at
		FROM operations`
	args := []any{}
	if executionID != "" {
		query += ` WHERE execution_id = ?`
		args = append(args, executionID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := make([]domain.Operation, 0)
	for rows.Next() {
		var op domain.Operation
		var opType, status string
		if err := rows.Scan(
			&op.ID, &op.ExecutionID, &opType, &status, &op.Currency,
			&op.Quantity, &op.Leverage,
			&op.StopLossPrice, &op.TakeProfitPrice,
			&op.MainOrderID, &op.StopLossOrderID, &op.TakeProfitOrderID,
			&op.ResultData, &op.ErrorMessage, &op.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = domain.OperationType(opType)
		op.Status = domain.OperationStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ---- helpers ----

func isAlterTableDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func fromJSON(raw string, out any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
