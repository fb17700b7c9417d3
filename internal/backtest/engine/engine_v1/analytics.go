package engine

import (
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

const tradingDaysPerYear = 252

// DailyReturns collapses the equity curve to one sample per calendar day,
// keeping the first observation after each day boundary, and returns the
// fractional day-over-day returns.
func DailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}

	daily := make([]float64, 0)
	lastDay := curve[0].Time.Truncate(24 * time.Hour)
	daily = append(daily, curve[0].Equity)

	for _, point := range curve[1:] {
		day := point.Time.Truncate(24 * time.Hour)
		if day.After(lastDay) {
			daily = append(daily, point.Equity)
			lastDay = day
		}
	}

	if len(daily) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(daily)-1)
	for i := 1; i < len(daily); i++ {
		if daily[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}

		returns = append(returns, (daily[i]-daily[i-1])/daily[i-1])
	}

	return returns
}

// ComputeMetrics derives the performance metrics from the full equity curve
// and trade ledger. Ratio functions return 0, not NaN, when fewer than two
// daily returns exist.
func ComputeMetrics(curve []types.EquityPoint, trades []types.Trade, initialCapital, maxDrawdown float64) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{
		MaxDrawdown: maxDrawdown,
		FinalEquity: initialCapital,
	}

	if len(curve) > 0 {
		metrics.FinalEquity = curve[len(curve)-1].Equity
	}

	if initialCapital > 0 {
		metrics.TotalReturn = (metrics.FinalEquity - initialCapital) / initialCapital
	}

	daily := DailyReturns(curve)
	metrics.AnnualizedReturn = annualizedReturn(daily)
	metrics.SharpeRatio = sharpeRatio(daily)
	metrics.SortinoRatio = sortinoRatio(daily)
	metrics.CalmarRatio = calmarRatio(metrics.AnnualizedReturn, maxDrawdown)

	closed := closedTrades(trades)
	metrics.TotalTrades = len(closed)
	metrics.ProfitFactor = profitFactor(closed)

	var grossWin, grossLoss float64
	for _, trade := range closed {
		metrics.Expectancy += trade.RealizedPnL

		if trade.RealizedPnL > 0 {
			metrics.WinningTrades++
			grossWin += trade.RealizedPnL
		} else {
			metrics.LosingTrades++
			grossLoss += trade.RealizedPnL
		}
	}

	if len(closed) > 0 {
		metrics.Expectancy /= float64(len(closed))
		metrics.WinRate = float64(metrics.WinningTrades) / float64(len(closed))
	}

	if metrics.WinningTrades > 0 {
		metrics.AvgWin = grossWin / float64(metrics.WinningTrades)
	}

	if metrics.LosingTrades > 0 {
		metrics.AvgLoss = grossLoss / float64(metrics.LosingTrades)
	}

	for _, trade := range trades {
		metrics.TotalFees += trade.Fees
		metrics.TotalSlippage += trade.Slippage
	}

	return metrics
}

// ComputeRisk derives empirical tail statistics from the daily return
// series. Beta, alpha and the information ratio stay None unless a benchmark
// return series of the same length is supplied.
func ComputeRisk(daily []float64, benchmark optional.Option[[]float64]) types.RiskMetrics {
	risk := types.RiskMetrics{
		Beta:             optional.None[float64](),
		Alpha:            optional.None[float64](),
		InformationRatio: optional.None[float64](),
	}

	if len(daily) < 2 {
		return risk
	}

	sorted := make([]float64, len(daily))
	copy(sorted, daily)
	sort.Float64s(sorted)

	risk.VaR95, risk.CVaR95 = valueAtRisk(sorted, 0.05)
	risk.VaR99, risk.CVaR99 = valueAtRisk(sorted, 0.01)
	risk.DownsideDeviation = downsideDeviation(daily)

	if benchmark.IsSome() && len(benchmark.Unwrap()) == len(daily) {
		beta, alpha, information := benchmarkStatistics(daily, benchmark.Unwrap())
		risk.Beta = optional.Some(beta)
		risk.Alpha = optional.Some(alpha)
		risk.InformationRatio = optional.Some(information)
	}

	return risk
}

// valueAtRisk returns the empirical quantile of the ascending-sorted return
// series at index floor(n×q), and the mean of all returns at or below that
// index.
func valueAtRisk(sorted []float64, q float64) (valueAt, conditional float64) {
	index := int(math.Floor(float64(len(sorted)) * q))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	valueAt = sorted[index]

	sum := 0.0
	for i := 0; i <= index; i++ {
		sum += sorted[i]
	}
	conditional = sum / float64(index+1)

	return valueAt, conditional
}

func annualizedReturn(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}

	return mean(daily) * tradingDaysPerYear
}

func sharpeRatio(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}

	deviation := stdDev(daily)
	if deviation == 0 {
		return 0
	}

	return mean(daily) * tradingDaysPerYear / (deviation * math.Sqrt(tradingDaysPerYear))
}

func sortinoRatio(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}

	deviation := downsideDeviation(daily)
	if deviation == 0 {
		if mean(daily) > 0 {
			return math.Inf(1)
		}

		return 0
	}

	return mean(daily) * tradingDaysPerYear / deviation
}

// downsideDeviation is the annualized root-mean-square of the negative
// returns only.
func downsideDeviation(daily []float64) float64 {
	if len(daily) == 0 {
		return 0
	}

	sum := 0.0
	for _, r := range daily {
		if r < 0 {
			sum += r * r
		}
	}

	return math.Sqrt(sum/float64(len(daily))) * math.Sqrt(tradingDaysPerYear)
}

func calmarRatio(annualized, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		if annualized > 0 {
			return math.Inf(1)
		}

		return 0
	}

	return annualized / maxDrawdown
}

func profitFactor(closed []types.Trade) float64 {
	var grossProfit, grossLoss float64
	for _, trade := range closed {
		if trade.RealizedPnL > 0 {
			grossProfit += trade.RealizedPnL
		} else {
			grossLoss += trade.RealizedPnL
		}
	}

	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}

		return 0
	}

	return grossProfit / math.Abs(grossLoss)
}

func benchmarkStatistics(daily, benchmark []float64) (beta, alpha, information float64) {
	benchmarkVariance := variance(benchmark)
	if benchmarkVariance > 0 {
		beta = covariance(daily, benchmark) / benchmarkVariance
	}

	alpha = (mean(daily) - beta*mean(benchmark)) * tradingDaysPerYear

	excess := make([]float64, len(daily))
	for i := range daily {
		excess[i] = daily[i] - benchmark[i]
	}

	if deviation := stdDev(excess); deviation > 0 {
		information = mean(excess) * tradingDaysPerYear / (deviation * math.Sqrt(tradingDaysPerYear))
	}

	return beta, alpha, information
}

func closedTrades(trades []types.Trade) []types.Trade {
	closed := make([]types.Trade, 0, len(trades))
	for _, trade := range trades {
		if !trade.IsOpen {
			closed = append(closed, trade)
		}
	}

	return closed
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}

	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

func covariance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}

	meanA := mean(a)
	meanB := mean(b)

	sum := 0.0
	for i := range a {
		sum += (a[i] - meanA) * (b[i] - meanB)
	}

	return sum / float64(len(a))
}
