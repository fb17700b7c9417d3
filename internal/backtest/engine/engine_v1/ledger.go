package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"github.com/shopspring/decimal"
)

// openTradeMeta tracks the entry-side bookkeeping of the one open trade per
// symbol so partial reductions can allocate entry fees proportionally.
type openTradeMeta struct {
	index      int
	entryFees  float64
	enteredQty float64
}

// Ledger owns cash, open positions and the trade record. It is the single
// source of truth for equity: equity is always recomputed as
// cash + Σ(quantity × mark), never stored independently.
//
// All mutations go through ApplyFill and MarkToMarket under the ledger lock,
// so fills apply atomically relative to equity observation.
type Ledger struct {
	mu sync.RWMutex

	initialCapital float64
	cash           float64
	positions      map[string]types.Position
	marks          map[string]float64
	trades         []types.Trade
	open           map[string]openTradeMeta
}

func NewLedger(initialCapital float64) *Ledger {
	return &Ledger{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]types.Position),
		marks:          make(map[string]float64),
		open:           make(map[string]openTradeMeta),
	}
}

// ApplyFill applies one priced fill to cash, the symbol's position and the
// trade record. Same-direction additions blend the weighted-average entry
// price; reductions realize P&L against it. A position whose quantity falls
// below the minimum is removed and its trade closed; that closed trade is
// returned so callers can observe it.
func (l *Ledger) ApplyFill(fill Fill) (optional.Option[types.Trade], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch fill.Side {
	case types.SignalActionBuy:
		return optional.None[types.Trade](), l.applyBuy(fill)
	case types.SignalActionSell, types.SignalActionClose:
		return l.applySell(fill)
	default:
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeInvalidSignal, "ledger cannot apply %s fill", fill.Side)
	}
}

func (l *Ledger) applyBuy(fill Fill) error {
	cost := fill.Notional() + fill.Fee
	if cost > l.cash+1e-9 {
		return errors.Newf(errors.ErrCodeInsufficientCapital,
			"fill cost %.4f exceeds cash %.4f for %s", cost, l.cash, fill.Symbol)
	}

	l.cash -= cost
	l.marks[fill.Symbol] = fill.Price

	position, held := l.positions[fill.Symbol]
	if !held {
		l.positions[fill.Symbol] = types.Position{
			Symbol:        fill.Symbol,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			TotalFees:     fill.Fee,
			TotalSlippage: fill.Slippage,
			OpenTime:      fill.Time,
		}

		l.trades = append(l.trades, types.Trade{
			ID:         uuid.NewString(),
			Symbol:     fill.Symbol,
			Side:       types.TradeSideLong,
			Quantity:   fill.Quantity,
			EntryTime:  fill.Time,
			EntryPrice: fill.Price,
			Fees:       fill.Fee,
			Slippage:   fill.Slippage,
			IsOpen:     true,
		})
		l.open[fill.Symbol] = openTradeMeta{
			index:      len(l.trades) - 1,
			entryFees:  fill.Fee,
			enteredQty: fill.Quantity,
		}

		return nil
	}

	// Same-direction addition: blend the volume-weighted entry price.
	blended := weightedAverage(position.Quantity, position.AvgEntryPrice, fill.Quantity, fill.Price)

	position.Quantity += fill.Quantity
	position.AvgEntryPrice = blended
	position.TotalFees += fill.Fee
	position.TotalSlippage += fill.Slippage
	l.positions[fill.Symbol] = position

	meta, ok := l.open[fill.Symbol]
	if !ok {
		return errors.Newf(errors.ErrCodeTradeNotFound, "position in %s has no open trade", fill.Symbol)
	}

	trade := &l.trades[meta.index]
	trade.EntryPrice = weightedAverage(trade.Quantity, trade.EntryPrice, fill.Quantity, fill.Price)
	trade.Quantity += fill.Quantity
	trade.Fees += fill.Fee
	trade.Slippage += fill.Slippage

	meta.entryFees += fill.Fee
	meta.enteredQty += fill.Quantity
	l.open[fill.Symbol] = meta

	return nil
}

func (l *Ledger) applySell(fill Fill) (optional.Option[types.Trade], error) {
	position, held := l.positions[fill.Symbol]
	if !held {
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeNoPositionToClose, "no open position in %s", fill.Symbol)
	}

	meta, ok := l.open[fill.Symbol]
	if !ok {
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeTradeNotFound, "position in %s has no open trade", fill.Symbol)
	}

	sold := fill.Quantity
	if sold > position.Quantity {
		sold = position.Quantity
	}

	l.cash += fill.Price*sold - fill.Fee
	l.marks[fill.Symbol] = fill.Price

	// Realized P&L for this reduction, with the entry fee share allocated by
	// sold fraction of the total entered quantity.
	soldDec := decimal.NewFromFloat(sold)
	gross := soldDec.Mul(decimal.NewFromFloat(fill.Price).Sub(decimal.NewFromFloat(position.AvgEntryPrice)))
	entryFeeShare := soldDec.Div(decimal.NewFromFloat(meta.enteredQty)).Mul(decimal.NewFromFloat(meta.entryFees))
	realized, _ := gross.Sub(decimal.NewFromFloat(fill.Fee)).Sub(entryFeeShare).Float64()

	trade := &l.trades[meta.index]
	trade.Fees += fill.Fee
	trade.Slippage += fill.Slippage
	trade.RealizedPnL += realized

	position.Quantity -= sold
	position.TotalFees += fill.Fee
	position.TotalSlippage += fill.Slippage

	if position.Quantity < types.MinPositionQuantity {
		delete(l.positions, fill.Symbol)
		delete(l.open, fill.Symbol)

		trade.ExitTime = optional.Some(fill.Time)
		trade.ExitPrice = fill.Price
		trade.IsOpen = false

		if notional := trade.EntryNotional(); notional > 0 {
			trade.ReturnPct = trade.RealizedPnL / notional
		}

		return optional.Some(*trade), nil
	}

	l.positions[fill.Symbol] = position

	return optional.None[types.Trade](), nil
}

// MarkToMarket updates the last known mark per symbol, refreshes unrealized
// P&L on open positions and returns the resulting equity. Symbols without a
// new mark keep their previous one.
func (l *Ledger) MarkToMarket(marks map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	for symbol, mark := range marks {
		if mark > 0 {
			l.marks[symbol] = mark
		}
	}

	for symbol, position := range l.positions {
		if mark, ok := l.marks[symbol]; ok {
			position.UnrealizedPnL = position.UnrealizedAt(mark)
			l.positions[symbol] = position
		}
	}

	return l.equityLocked()
}

func (l *Ledger) equityLocked() float64 {
	equity := decimal.NewFromFloat(l.cash)
	for symbol, position := range l.positions {
		mark, ok := l.marks[symbol]
		if !ok {
			mark = position.AvgEntryPrice
		}

		equity = equity.Add(decimal.NewFromFloat(position.Quantity).Mul(decimal.NewFromFloat(mark)))
	}

	result, _ := equity.Float64()

	return result
}

// Equity returns cash plus the mark-to-market value of all open positions.
func (l *Ledger) Equity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.equityLocked()
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cash
}

func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital
}

// GetPosition returns the open position in symbol, or None when flat.
func (l *Ledger) GetPosition(symbol string) optional.Option[types.Position] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	position, ok := l.positions[symbol]
	if !ok {
		return optional.None[types.Position]()
	}

	return optional.Some(position)
}

// Positions returns a snapshot of all open positions sorted by symbol.
func (l *Ledger) Positions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make([]types.Position, 0, len(l.positions))
	for _, position := range l.positions {
		positions = append(positions, position)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return positions
}

func (l *Ledger) OpenPositionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.positions)
}

// Trades returns a snapshot of all trades, open and closed, in entry order.
func (l *Ledger) Trades() []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trades := make([]types.Trade, len(l.trades))
	copy(trades, l.trades)

	return trades
}

func weightedAverage(quantityA, priceA, quantityB, priceB float64) float64 {
	qa := decimal.NewFromFloat(quantityA)
	qb := decimal.NewFromFloat(quantityB)

	total := qa.Add(qb)
	if total.IsZero() {
		return 0
	}

	blended, _ := qa.Mul(decimal.NewFromFloat(priceA)).
		Add(qb.Mul(decimal.NewFromFloat(priceB))).
		Div(total).
		Float64()

	return blended
}
