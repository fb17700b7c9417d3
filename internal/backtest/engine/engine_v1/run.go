package engine

import (
	"context"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// portfolioRun is the mutable state of one backtest run. Both drivers fold
// time slices through it: mark-to-market, drawdown, risk sweep, strategy
// callback, execution. The ledger keeps its own lock; everything else here
// is touched by one goroutine at a time.
type portfolioRun struct {
	config    BacktestEngineV1Config
	log       *logger.Logger
	callbacks engine.LifecycleCallbacks

	ledger  *Ledger
	pricer  *ExecutionPricer
	tracker *DrawdownTracker

	curve    []types.EquityPoint
	rejected int

	barsSeen map[string]int
	lastBar  map[string]types.MarketBar

	lastDay       time.Time
	lastDayEquity float64
}

func newPortfolioRun(config BacktestEngineV1Config, log *logger.Logger, callbacks engine.LifecycleCallbacks) (*portfolioRun, error) {
	pricer, err := NewExecutionPricer(config.Slippage, config.Fees, config.DecimalPrecision)
	if err != nil {
		return nil, err
	}

	return &portfolioRun{
		config:    config,
		log:       log,
		callbacks: callbacks,
		ledger:    NewLedger(config.InitialCapital),
		pricer:    pricer,
		tracker:   NewDrawdownTracker(config.InitialCapital),
		barsSeen:  make(map[string]int),
		lastBar:   make(map[string]types.MarketBar),
	}, nil
}

// processSlice folds one synchronized time slice through the run:
// mark-to-market and equity recording first, then the stop-loss/take-profit
// sweep, then the strategy per symbol in sorted order.
func (r *portfolioRun) processSlice(ctx context.Context, strat strategy.Strategy, slice timeSlice) error {
	marks := make(map[string]float64, len(slice.bars))
	for symbol, bar := range slice.bars {
		marks[symbol] = bar.Close
		r.lastBar[symbol] = bar
	}

	equity := r.ledger.MarkToMarket(marks)
	r.recordEquity(slice.at, equity)

	if err := r.riskSweep(slice); err != nil {
		return err
	}

	for _, symbol := range sortedSymbols(slice.bars) {
		bar := slice.bars[symbol]

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

		if err := r.execute(signal.Unwrap(), bar); err != nil {
			return err
		}
	}

	return nil
}

// riskSweep closes positions whose return has crossed the stop-loss or
// take-profit threshold, before the strategy sees the slice.
func (r *portfolioRun) riskSweep(slice timeSlice) error {
	if r.config.StopLossPct.IsNone() && r.config.TakeProfitPct.IsNone() {
		return nil
	}

	for _, position := range r.ledger.Positions() {
		bar, ok := slice.bars[position.Symbol]
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

		r.log.Debug("risk sweep closing position",
			zap.String("symbol", position.Symbol),
			zap.String("reason", reason),
			zap.Float64("return", positionReturn),
		)

		signal := types.Signal{
			Time:      bar.Time,
			Action:    types.SignalActionClose,
			Symbol:    position.Symbol,
			OrderType: types.OrderTypeMarket,
			Urgency:   types.UrgencyHigh,
			Meta:      types.SignalMeta{SchemaVersion: 1, Reason: reason},
		}

		if err := r.execute(signal, bar); err != nil {
			return err
		}
	}

	return nil
}

// execute prices a signal and applies the fill. Insufficient-capital and
// no-position rejections are counted and skipped; everything else aborts.
func (r *portfolioRun) execute(signal types.Signal, bar types.MarketBar) error {
	if signal.Action == types.SignalActionCloseAll {
		for _, position := range r.ledger.Positions() {
			closeSignal := signal
			closeSignal.Action = types.SignalActionClose
			closeSignal.Symbol = position.Symbol

			barFor, ok := r.lastBar[position.Symbol]
			if !ok {
				continue
			}

			if err := r.execute(closeSignal, barFor); err != nil {
				return err
			}
		}

		return nil
	}

	if err := signal.Validate(); err != nil {
		return err
	}

	cash := r.availableCash(signal)

	fill, err := r.pricer.Price(signal, bar, r.ledger.GetPosition(signal.Symbol), cash)
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

	if closed.IsSome() && r.callbacks.OnTrade != nil {
		(*r.callbacks.OnTrade)(closed.Unwrap())
	}

	return nil
}

// availableCash is the ledger's cash, reduced so a BUY cannot push one
// symbol's exposure past MaxPositionSize of current equity.
func (r *portfolioRun) availableCash(signal types.Signal) float64 {
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

func (r *portfolioRun) recordEquity(at time.Time, equity float64) {
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

	point := types.EquityPoint{
		Time:          at,
		Equity:        equity,
		Drawdown:      r.tracker.Observe(at, equity),
		OpenPositions: r.ledger.OpenPositionCount(),
		DailyReturn:   dailyReturn,
	}

	r.curve = append(r.curve, point)

	if r.callbacks.OnEquity != nil {
		(*r.callbacks.OnEquity)(point)
	}
}

// finish runs the strategy's end-of-run hook and, when configured, closes
// every remaining position at its last seen bar.
func (r *portfolioRun) finish(ctx context.Context, strat strategy.Strategy) error {
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

		if err := r.execute(signal, bar); err != nil {
			return err
		}
	}

	// one more equity sample so the curve reflects the final closes
	r.recordEquity(lastAt, r.ledger.MarkToMarket(nil))

	return nil
}

// result assembles the run's full result surface.
func (r *portfolioRun) result(runID string, startedAt time.Time, configYAML string) *types.BacktestResult {
	trades := r.ledger.Trades()
	daily := DailyReturns(r.curve)

	return &types.BacktestResult{
		RunID:           runID,
		StartedAt:       startedAt,
		ConfigYAML:      configYAML,
		Metrics:         ComputeMetrics(r.curve, trades, r.config.InitialCapital, r.tracker.MaxDrawdown()),
		Risk:            ComputeRisk(daily, optional.None[[]float64]()),
		Trades:          trades,
		EquityCurve:     r.curve,
		DrawdownPeriods: r.tracker.Periods(),
		RejectedSignals: r.rejected,
	}
}

func sortedSymbols(bars map[string]types.MarketBar) []string {
	symbols := make([]string, 0, len(bars))
	for symbol := range bars {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}
