package engine

import (
	"context"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	engine_v1 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// streamRun is the mutable state of one streaming run. The merge loop is
// its only writer; fills are priced on the worker pool but applied here,
// in slice order, so the portfolio evolves exactly as it would under the
// synchronous driver. Trades and equity points go out over the handle's
// bounded channels; a full consumer-side buffer blocks the producer rather
// than dropping events.
type streamRun struct {
	config engine_v1.BacktestEngineV1Config
	log    *logger.Logger
	pool   *workerPool

	ledger  *engine_v1.Ledger
	tracker *engine_v1.DrawdownTracker

	rejected int

	barsSeen map[string]int
	lastBar  map[string]types.MarketBar

	lastDay       time.Time
	lastDayEquity float64

	tradesOut chan<- types.Trade
	equityOut chan<- types.EquityPoint
	onProcess func(current int) error
}

func newStreamRun(config engine_v1.BacktestEngineV1Config, log *logger.Logger, handle *RunHandle) (*streamRun, error) {
	pricer, err := engine_v1.NewExecutionPricer(config.Slippage, config.Fees, config.DecimalPrecision)
	if err != nil {
		return nil, err
	}

	return &streamRun{
		config:    config,
		log:       log,
		pool:      newWorkerPool(pricer, config.ParallelWorkers, config.WorkerTimeout, log.Named("workers")),
		ledger:    engine_v1.NewLedger(config.InitialCapital),
		tracker:   engine_v1.NewDrawdownTracker(config.InitialCapital),
		barsSeen:  make(map[string]int),
		lastBar:   make(map[string]types.MarketBar),
		tradesOut: handle.trades,
		equityOut: handle.equity,
	}, nil
}

func (r *streamRun) processSlice(ctx context.Context, strat strategy.Strategy, at time.Time, bars map[string]types.MarketBar) error {
	marks := make(map[string]float64, len(bars))
	for symbol, bar := range bars {
		marks[symbol] = bar.Close
		r.lastBar[symbol] = bar
	}

	equity := r.ledger.MarkToMarket(marks)
	r.recordEquity(at, equity)

	if err := r.riskSweep(ctx, bars); err != nil {
		return err
	}

	symbols := make([]string, 0, len(bars))
	for symbol := range bars {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		bar := bars[symbol]

		r.barsSeen[symbol]++
		if r.barsSeen[symbol] <= r.config.ExecutionDelay {
			continue
		}

		signal, err := strat.OnBar(ctx, bar, r.ledger)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeStrategyFailed, err, "strategy failed on %s at %s", symbol, bar.Time.Format(time.RFC3339))
		}

		if signal.IsNone() {
			continue
		}

		if err := r.execute(ctx, signal.Unwrap(), bar); err != nil {
			return err
		}
	}

	return nil
}

func (r *streamRun) riskSweep(ctx context.Context, bars map[string]types.MarketBar) error {
	if r.config.StopLossPct.IsNone() && r.config.TakeProfitPct.IsNone() {
		return nil
	}

	for _, position := range r.ledger.Positions() {
		bar, ok := bars[position.Symbol]
		if !ok {
			continue
		}

		if position.AvgEntryPrice <= 0 {
			continue
		}

		positionReturn := (bar.Close - position.AvgEntryPrice) / position.AvgEntryPrice

		reason := ""

		switch {
		case r.config.StopLossPct.IsSome() && positionReturn <= -r.config.StopLossPct.Unwrap():
			reason = types.SignalReasonStopLoss
		case r.config.TakeProfitPct.IsSome() && positionReturn >= r.config.TakeProfitPct.Unwrap():
			reason = types.SignalReasonTakeProfit
		default:
			continue
		}

		signal := types.Signal{
			Time:      bar.Time,
			Action:    types.SignalActionClose,
			Symbol:    position.Symbol,
			OrderType: types.OrderTypeMarket,
			Urgency:   types.UrgencyHigh,
			Meta:      types.SignalMeta{SchemaVersion: 1, Reason: reason},
		}

		if err := r.execute(ctx, signal, bar); err != nil {
			return err
		}
	}

	return nil
}

// execute prices one signal on the worker pool and applies the fill.
// Rejections are counted and skipped; worker failures and everything else
// abort the run.
func (r *streamRun) execute(ctx context.Context, signal types.Signal, bar types.MarketBar) error {
	if signal.Action == types.SignalActionCloseAll {
		for _, position := range r.ledger.Positions() {
			closeSignal := signal
			closeSignal.Action = types.SignalActionClose
			closeSignal.Symbol = position.Symbol

			barFor, ok := r.lastBar[position.Symbol]
			if !ok {
				continue
			}

			if err := r.execute(ctx, closeSignal, barFor); err != nil {
				return err
			}
		}

		return nil
	}

	if err := signal.Validate(); err != nil {
		return err
	}

	fill, err := r.pool.Price(ctx, signal, bar, r.ledger.GetPosition(signal.Symbol), r.availableCash(signal))
	if err != nil {
		if errors.IsRejection(err) || errors.HasCode(err, errors.ErrCodeNoPositionToClose) {
			r.rejected++
			r.log.Warn("signal rejected",
				zap.String("symbol", signal.Symbol),
				zap.String("action", string(signal.Action)),
				zap.Error(err),
			)

			return nil
		}

		return err
	}

	closed, err := r.ledger.ApplyFill(fill)
	if err != nil {
		return err
	}

	if closed.IsSome() {
		r.tradesOut <- closed.Unwrap()
	}

	return nil
}

func (r *streamRun) availableCash(signal types.Signal) float64 {
	cash := r.ledger.Cash()
	if signal.Action != types.SignalActionBuy || r.config.MaxPositionSize <= 0 {
		return cash
	}

	budget := r.config.MaxPositionSize * r.ledger.Equity()

	if position := r.ledger.GetPosition(signal.Symbol); position.IsSome() {
		mark := position.Unwrap().AvgEntryPrice
		if bar, ok := r.lastBar[signal.Symbol]; ok {
			mark = bar.Close
		}

		budget -= position.Unwrap().MarketValue(mark)
	}

	if budget < 0 {
		budget = 0
	}

	if budget < cash {
		return budget
	}

	return cash
}

func (r *streamRun) recordEquity(at time.Time, equity float64) {
	dailyReturn := optional.None[float64]()

	day := at.Truncate(24 * time.Hour)
	if r.lastDay.IsZero() {
		r.lastDay = day
		r.lastDayEquity = equity
	} else if day.After(r.lastDay) {
		if r.lastDayEquity != 0 {
			dailyReturn = optional.Some((equity - r.lastDayEquity) / r.lastDayEquity)
		}

		r.lastDay = day
		r.lastDayEquity = equity
	}

	r.equityOut <- types.EquityPoint{
		Time:          at,
		Equity:        equity,
		Drawdown:      r.tracker.Observe(at, equity),
		OpenPositions: r.ledger.OpenPositionCount(),
		DailyReturn:   dailyReturn,
	}
}

func (r *streamRun) finish(ctx context.Context, strat strategy.Strategy) error {
	if err := strat.OnFinish(ctx, r.ledger); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyFailed, "strategy finish hook failed", err)
	}

	if !r.config.CloseOnFinish {
		return nil
	}

	positions := r.ledger.Positions()
	if len(positions) == 0 {
		return nil
	}

	var lastAt time.Time

	for _, position := range positions {
		bar, ok := r.lastBar[position.Symbol]
		if !ok {
			continue
		}

		if bar.Time.After(lastAt) {
			lastAt = bar.Time
		}

		signal := types.Signal{
			Time:      bar.Time,
			Action:    types.SignalActionClose,
			Symbol:    position.Symbol,
			OrderType: types.OrderTypeMarket,
			Urgency:   types.UrgencyHigh,
			Meta:      types.SignalMeta{SchemaVersion: 1, Reason: types.SignalReasonEndOfRun},
		}

		if err := r.execute(ctx, signal, bar); err != nil {
			return err
		}
	}

	r.recordEquity(lastAt, r.ledger.MarkToMarket(nil))

	return nil
}

// result assembles the final result from ledger state and the equity curve
// the metrics consumer accumulated.
func (r *streamRun) result(runID string, startedAt time.Time, configYAML string, curve []types.EquityPoint) *types.BacktestResult {
	trades := r.ledger.Trades()
	daily := engine_v1.DailyReturns(curve)

	return &types.BacktestResult{
		RunID:           runID,
		StartedAt:       startedAt,
		ConfigYAML:      configYAML,
		Metrics:         engine_v1.ComputeMetrics(curve, trades, r.config.InitialCapital, r.tracker.MaxDrawdown()),
		Risk:            engine_v1.ComputeRisk(daily, optional.None[[]float64]()),
		Trades:          trades,
		EquityCurve:     curve,
		DrawdownPeriods: r.tracker.Periods(),
		RejectedSignals: r.rejected,
	}
}
