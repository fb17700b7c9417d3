package datasource

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBSource serves bars from a DuckDB view over a parquet file. Bid and
// ask columns are optional in the parquet schema; missing quotes read as
// zero and execution falls back to the close price.
type DuckDBSource struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBSource opens a DuckDB database at path. Use Initialize to point
// it at a parquet file of bars.
func NewDuckDBSource(path string, logger *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	return &DuckDBSource{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize creates the market_bars view over the given parquet file,
// replacing any previous view.
func (s *DuckDBSource) Initialize(parquetPath string) error {
	s.logger.Debug("initializing duckdb bar source", zap.String("path", parquetPath))

	if _, err := s.db.Exec(`DROP VIEW IF EXISTS market_bars;`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing view", err)
	}

	// CREATE VIEW is not expressible with squirrel
	query := fmt.Sprintf(`
		CREATE VIEW market_bars AS
		SELECT
			time, symbol, open, high, low, close, volume,
			COALESCE(bid, 0) AS bid,
			COALESCE(ask, 0) AS ask
		FROM read_parquet('%s');
	`, parquetPath)

	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create market_bars view", err)
	}

	return nil
}

// Symbols implements BarSource.
func (s *DuckDBSource) Symbols() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT symbol FROM market_bars ORDER BY symbol")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating symbols", err)
	}

	return symbols, nil
}

// GetBars implements BarSource.
func (s *DuckDBSource) GetBars(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) ([]types.MarketBar, error) {
	builder := s.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume", "bid", "ask").
		From("market_bars").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("time ASC")

	if start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": start.Unwrap()})
	}

	if end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": end.Unwrap()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	result := make([]types.MarketBar, 0, 1000)

	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}

		result = append(result, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bars", err)
	}

	return result, nil
}

// ReadAll implements BarSource with batched row processing so callers can
// stop consuming without draining the full result set.
func (s *DuckDBSource) ReadAll(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.MarketBar, error) bool) {
	const batchSize = 1000

	return func(yield func(types.MarketBar, error) bool) {
		builder := s.sq.
			Select("time", "symbol", "open", "high", "low", "close", "volume", "bid", "ask").
			From("market_bars").
			Where(squirrel.Eq{"symbol": symbol}).
			OrderBy("time ASC")

		if start.IsSome() {
			builder = builder.Where(squirrel.GtOrEq{"time": start.Unwrap()})
		}

		if end.IsSome() {
			builder = builder.Where(squirrel.LtOrEq{"time": end.Unwrap()})
		}

		query, args, err := builder.ToSql()
		if err != nil {
			yield(types.MarketBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err))

			return
		}

		rows, err := s.db.Query(query, args...)
		if err != nil {
			yield(types.MarketBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err))

			return
		}
		defer rows.Close()

		batch := make([]types.MarketBar, 0, batchSize)

		for rows.Next() {
			bar, err := scanBar(rows)
			if err != nil {
				yield(types.MarketBar{}, err)

				return
			}

			batch = append(batch, bar)

			if len(batch) >= batchSize {
				for _, queued := range batch {
					if !yield(queued, nil) {
						return
					}
				}

				batch = batch[:0]
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.MarketBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating bars", err))

			return
		}

		for _, queued := range batch {
			if !yield(queued, nil) {
				return
			}
		}
	}
}

// Metadata implements BarSource.
func (s *DuckDBSource) Metadata(symbol string) (Metadata, error) {
	query, args, err := s.sq.
		Select("MIN(time)", "MAX(time)", "COUNT(*)").
		From("market_bars").
		Where(squirrel.Eq{"symbol": symbol}).
		ToSql()
	if err != nil {
		return Metadata{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var (
		first, last sql.NullTime
		total       int
	)

	if err := s.db.QueryRow(query, args...).Scan(&first, &last, &total); err != nil {
		return Metadata{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query metadata", err)
	}

	if total == 0 {
		return Metadata{}, errors.Newf(errors.ErrCodeNoDataFound, "no bars for symbol %s", symbol)
	}

	metadata := Metadata{
		Symbol:    symbol,
		FirstBar:  first.Time,
		LastBar:   last.Time,
		TotalBars: total,
	}

	// modal bar spacing via the most common time delta
	frequencyQuery := `
		SELECT delta FROM (
			SELECT time - LAG(time) OVER (ORDER BY time) AS delta
			FROM market_bars WHERE symbol = $1
		) WHERE delta IS NOT NULL
		GROUP BY delta ORDER BY COUNT(*) DESC, delta ASC LIMIT 1
	`

	var delta time.Duration
	if err := s.db.QueryRow(frequencyQuery, symbol).Scan(&delta); err == nil {
		metadata.Frequency = delta
	}

	return metadata, nil
}

// Count implements BarSource.
func (s *DuckDBSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	builder := s.sq.Select("COUNT(*)").From("market_bars")

	if start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": start.Unwrap()})
	}

	if end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": end.Unwrap()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Close implements BarSource.
func (s *DuckDBSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func scanBar(rows *sql.Rows) (types.MarketBar, error) {
	var (
		bar       types.MarketBar
		timestamp time.Time
	)

	err := rows.Scan(&timestamp, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.Bid, &bar.Ask)
	if err != nil {
		return types.MarketBar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err)
	}

	bar.Time = timestamp

	return bar, nil
}
