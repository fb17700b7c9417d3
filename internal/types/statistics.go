package types

import (
	"fmt"
	"os"
	"time"

	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"
)

// PerformanceMetrics are computed once per run from the full equity curve and
// trade ledger. Ratio fields are 0 when fewer than two data points exist.
type PerformanceMetrics struct {
	// TotalReturn is the fractional return over the whole run.
	TotalReturn      float64 `yaml:"total_return" json:"total_return"`
	AnnualizedReturn float64 `yaml:"annualized_return" json:"annualized_return"`
	SharpeRatio      float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	SortinoRatio     float64 `yaml:"sortino_ratio" json:"sortino_ratio"`
	CalmarRatio      float64 `yaml:"calmar_ratio" json:"calmar_ratio"`
	ProfitFactor     float64 `yaml:"profit_factor" json:"profit_factor"`
	// Expectancy is the mean realized P&L across closed trades.
	Expectancy  float64 `yaml:"expectancy" json:"expectancy"`
	WinRate     float64 `yaml:"win_rate" json:"win_rate"`
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`

	TotalTrades   int     `yaml:"total_trades" json:"total_trades"`
	WinningTrades int     `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades  int     `yaml:"losing_trades" json:"losing_trades"`
	AvgWin        float64 `yaml:"avg_win" json:"avg_win"`
	AvgLoss       float64 `yaml:"avg_loss" json:"avg_loss"`

	TotalFees     float64 `yaml:"total_fees" json:"total_fees"`
	TotalSlippage float64 `yaml:"total_slippage" json:"total_slippage"`
	FinalEquity   float64 `yaml:"final_equity" json:"final_equity"`
}

// RiskMetrics are empirical tail statistics of the daily return
// distribution. Beta, Alpha and InformationRatio require an external
// benchmark return series; they stay None when no benchmark is supplied
// rather than defaulting to misleading values.
type RiskMetrics struct {
	VaR95  float64 `yaml:"var_95" json:"var_95"`
	VaR99  float64 `yaml:"var_99" json:"var_99"`
	CVaR95 float64 `yaml:"cvar_95" json:"cvar_95"`
	CVaR99 float64 `yaml:"cvar_99" json:"cvar_99"`

	DownsideDeviation float64 `yaml:"downside_deviation" json:"downside_deviation"`

	Beta             optional.Option[float64] `yaml:"beta" json:"beta"`
	Alpha            optional.Option[float64] `yaml:"alpha" json:"alpha"`
	InformationRatio optional.Option[float64] `yaml:"information_ratio" json:"information_ratio"`
}

// BacktestResult is the full result surface of one run.
type BacktestResult struct {
	// RunID is the unique identifier for this backtest run.
	RunID string `yaml:"run_id" json:"run_id"`
	// StartedAt is when this run was executed.
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
	// ConfigYAML echoes the run configuration.
	ConfigYAML string `yaml:"config" json:"config"`

	Metrics PerformanceMetrics `yaml:"metrics" json:"metrics"`
	Risk    RiskMetrics        `yaml:"risk" json:"risk"`

	Trades          []Trade          `yaml:"trades" json:"trades"`
	EquityCurve     []EquityPoint    `yaml:"equity_curve" json:"equity_curve"`
	DrawdownPeriods []DrawdownPeriod `yaml:"drawdown_periods" json:"drawdown_periods"`

	// RejectedSignals counts signals whose affordable quantity rounded to
	// zero. Rejections are skipped, not fatal, but must stay observable.
	RejectedSignals int `yaml:"rejected_signals" json:"rejected_signals"`
}

// Summary is the YAML-serializable digest written next to exported results.
type Summary struct {
	RunID     string             `yaml:"run_id"`
	StartedAt time.Time          `yaml:"started_at"`
	Symbols   []string           `yaml:"symbols"`
	Metrics   PerformanceMetrics `yaml:"metrics"`
	Risk      RiskMetrics        `yaml:"risk"`
	Trades    int                `yaml:"trades"`
	Rejected  int                `yaml:"rejected_signals"`
}

// WriteSummary writes the run summary to the given path as YAML.
func WriteSummary(path string, summary Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary to file: %w", err)
	}

	return nil
}
