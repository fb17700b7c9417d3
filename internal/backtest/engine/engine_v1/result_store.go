package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// ResultStore persists a finished run into DuckDB and exports the trade and
// equity tables as parquet, plus a YAML summary, under one folder.
type ResultStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewResultStore opens an in-memory DuckDB used as a staging area for the
// parquet export.
func NewResultStore() (*ResultStore, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to open duckdb", err)
	}

	store := &ResultStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}

	if err := store.createTables(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *ResultStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR,
			symbol VARCHAR,
			side VARCHAR,
			quantity DOUBLE,
			entry_time TIMESTAMP,
			entry_price DOUBLE,
			exit_time TIMESTAMP,
			exit_price DOUBLE,
			fees DOUBLE,
			slippage DOUBLE,
			realized_pnl DOUBLE,
			return_pct DOUBLE,
			is_open BOOLEAN
		);
		CREATE TABLE IF NOT EXISTS equity_points (
			time TIMESTAMP,
			equity DOUBLE,
			drawdown DOUBLE,
			open_positions INTEGER
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to create result tables", err)
	}

	return nil
}

// Save writes the run's trades, equity curve and summary into folder. The
// folder is created if missing.
func (s *ResultStore) Save(folder string, symbols []string, result *types.BacktestResult) error {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to create results folder", err)
	}

	for _, trade := range result.Trades {
		var exitTime interface{}
		if trade.ExitTime.IsSome() {
			exitTime = trade.ExitTime.Unwrap()
		}

		query, args, err := s.sq.
			Insert("trades").
			Columns("id", "symbol", "side", "quantity", "entry_time", "entry_price",
				"exit_time", "exit_price", "fees", "slippage", "realized_pnl", "return_pct", "is_open").
			Values(trade.ID, trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryTime, trade.EntryPrice,
				exitTime, trade.ExitPrice, trade.Fees, trade.Slippage, trade.RealizedPnL, trade.ReturnPct, trade.IsOpen).
			ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to build trade insert", err)
		}

		if _, err := s.db.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to insert trade", err)
		}
	}

	for _, point := range result.EquityCurve {
		query, args, err := s.sq.
			Insert("equity_points").
			Columns("time", "equity", "drawdown", "open_positions").
			Values(point.Time, point.Equity, point.Drawdown, point.OpenPositions).
			ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to build equity insert", err)
		}

		if _, err := s.db.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to insert equity point", err)
		}
	}

	// COPY is not expressible with squirrel
	tradesPath := filepath.Join(folder, "trades.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to export trades parquet", err)
	}

	equityPath := filepath.Join(folder, "equity.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY equity_points TO '%s' (FORMAT PARQUET)`, equityPath)); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to export equity parquet", err)
	}

	summary := types.Summary{
		RunID:     result.RunID,
		StartedAt: result.StartedAt,
		Symbols:   symbols,
		Metrics:   result.Metrics,
		Risk:      result.Risk,
		Trades:    len(result.Trades),
		Rejected:  result.RejectedSignals,
	}

	if err := types.WriteSummary(filepath.Join(folder, "summary.yaml"), summary); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to write summary", err)
	}

	return nil
}

// Close releases the staging database.
func (s *ResultStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (b *BacktestEngineV1) saveResults(result *types.BacktestResult) error {
	store, err := NewResultStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(b.resultsFolder, b.config.Symbols, result); err != nil {
		return err
	}

	b.log.Info("results saved",
		zap.String("folder", b.resultsFolder),
		zap.String("run_id", result.RunID),
	)

	return nil
}
