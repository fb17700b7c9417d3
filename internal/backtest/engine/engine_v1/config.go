package engine

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/fee"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/slippage"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"github.com/rxtech-lab/argo-portfolio/pkg/utils"
)

type BacktestEngineV1Config struct {
	InitialCapital float64  `yaml:"initial_capital" json:"initial_capital" validate:"required,gt=0" jsonschema:"title=Initial Capital,description=Starting capital for the backtest in USD,minimum=0"`
	Symbols        []string `yaml:"symbols" json:"symbols" validate:"required,min=1" jsonschema:"title=Symbols,description=Symbols to replay"`

	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start time for the backtest period"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end time for the backtest period"`

	Slippage slippage.Config `yaml:"slippage" json:"slippage" jsonschema:"title=Slippage Model"`
	Fees     fee.Config      `yaml:"fees" json:"fees" jsonschema:"title=Fee Model"`

	// ExecutionDelay is the number of bars observed per symbol before the
	// strategy is consulted.
	ExecutionDelay int `yaml:"execution_delay" json:"execution_delay" validate:"gte=0" jsonschema:"title=Execution Delay,minimum=0"`
	// DecimalPrecision is the quantity precision used when flooring
	// cash-constrained fills.
	DecimalPrecision int `yaml:"decimal_precision" json:"decimal_precision" validate:"gte=0" jsonschema:"title=Decimal Precision,minimum=0"`
	// MaxPositionSize caps a single BUY at this fraction of current equity.
	// Zero means unconstrained.
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size" validate:"gte=0,lte=1" jsonschema:"title=Max Position Size,minimum=0,maximum=1"`

	// StopLossPct and TakeProfitPct trigger a CLOSE when an open position's
	// return crosses the threshold. None disables the sweep.
	StopLossPct   optional.Option[float64] `yaml:"stop_loss_pct" json:"stop_loss_pct" jsonschema:"title=Stop Loss Percent"`
	TakeProfitPct optional.Option[float64] `yaml:"take_profit_pct" json:"take_profit_pct" jsonschema:"title=Take Profit Percent"`

	// CloseOnFinish closes all open positions at the final bar's close.
	CloseOnFinish bool `yaml:"close_on_finish" json:"close_on_finish" jsonschema:"title=Close On Finish"`

	// Streaming settings. Ignored by the synchronous engine.
	ChunkSize        int           `yaml:"chunk_size" json:"chunk_size" validate:"gte=0" jsonschema:"title=Chunk Size,description=Bars buffered per symbol chunk in streaming runs,minimum=0"`
	ParallelWorkers  int           `yaml:"parallel_workers" json:"parallel_workers" validate:"gte=0" jsonschema:"title=Parallel Workers,minimum=0"`
	WorkerTimeout    time.Duration `yaml:"worker_timeout" json:"worker_timeout" jsonschema:"title=Worker Timeout,description=Per-request execution pricing timeout"`
	OutputBufferSize int           `yaml:"output_buffer_size" json:"output_buffer_size" validate:"gte=0" jsonschema:"title=Output Buffer Size,description=Capacity of the trade and equity output channels,minimum=0"`
}

// EmptyConfig returns a config with the engine defaults applied. Callers
// still need to set capital and symbols.
func EmptyConfig() BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialCapital:   0,
		Symbols:          nil,
		StartTime:        optional.None[time.Time](),
		EndTime:          optional.None[time.Time](),
		Slippage:         slippage.Config{Model: slippage.ModelFixed, BaseBps: 0, ImpactCoefficient: 0, LiquidityFactor: 0},
		Fees:             fee.Config{Model: fee.ModelTakerMaker, TakerRate: 0, MakerRate: 0, FixedFee: 0},
		ExecutionDelay:   0,
		DecimalPrecision: 4,
		MaxPositionSize:  0,
		StopLossPct:      optional.None[float64](),
		TakeProfitPct:    optional.None[float64](),
		CloseOnFinish:    true,
		ChunkSize:        256,
		ParallelWorkers:  4,
		WorkerTimeout:    5 * time.Second,
		OutputBufferSize: 1024,
	}
}

// TestConfig returns a config suitable for deterministic tests: fixed
// slippage, taker/maker fees, and a single symbol.
func TestConfig(symbol string, initialCapital float64) BacktestEngineV1Config {
	config := EmptyConfig()
	config.InitialCapital = initialCapital
	config.Symbols = []string{symbol}
	config.Slippage = slippage.Config{Model: slippage.ModelFixed, BaseBps: 10, ImpactCoefficient: 0, LiquidityFactor: 0}
	config.Fees = fee.Config{Model: fee.ModelTakerMaker, TakerRate: 0.001, MakerRate: 0.0005, FixedFee: 0}

	return config
}

// UnmarshalYAML implements custom unmarshaling for BacktestEngineV1Config.
func (c *BacktestEngineV1Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		InitialCapital   float64         `yaml:"initial_capital"`
		Symbols          []string        `yaml:"symbols"`
		StartTime        *time.Time      `yaml:"start_time"`
		EndTime          *time.Time      `yaml:"end_time"`
		Slippage         slippage.Config `yaml:"slippage"`
		Fees             fee.Config      `yaml:"fees"`
		ExecutionDelay   int             `yaml:"execution_delay"`
		DecimalPrecision *int            `yaml:"decimal_precision"`
		MaxPositionSize  float64         `yaml:"max_position_size"`
		StopLossPct      *float64        `yaml:"stop_loss_pct"`
		TakeProfitPct    *float64        `yaml:"take_profit_pct"`
		CloseOnFinish    *bool           `yaml:"close_on_finish"`
		ChunkSize        int             `yaml:"chunk_size"`
		ParallelWorkers  int             `yaml:"parallel_workers"`
		WorkerTimeout    string          `yaml:"worker_timeout"`
		OutputBufferSize int             `yaml:"output_buffer_size"`
	}

	var config Config
	if err := unmarshal(&config); err != nil {
		return err
	}

	defaults := EmptyConfig()

	c.InitialCapital = config.InitialCapital
	c.Symbols = config.Symbols
	c.Slippage = config.Slippage
	c.Fees = config.Fees
	c.ExecutionDelay = config.ExecutionDelay
	c.MaxPositionSize = config.MaxPositionSize

	if config.StartTime != nil {
		c.StartTime = optional.Some(*config.StartTime)
	}

	if config.EndTime != nil {
		c.EndTime = optional.Some(*config.EndTime)
	}

	if config.StopLossPct != nil {
		c.StopLossPct = optional.Some(*config.StopLossPct)
	}

	if config.TakeProfitPct != nil {
		c.TakeProfitPct = optional.Some(*config.TakeProfitPct)
	}

	c.DecimalPrecision = defaults.DecimalPrecision
	if config.DecimalPrecision != nil {
		c.DecimalPrecision = *config.DecimalPrecision
	}

	c.CloseOnFinish = defaults.CloseOnFinish
	if config.CloseOnFinish != nil {
		c.CloseOnFinish = *config.CloseOnFinish
	}

	c.ChunkSize = defaults.ChunkSize
	if config.ChunkSize > 0 {
		c.ChunkSize = config.ChunkSize
	}

	c.ParallelWorkers = defaults.ParallelWorkers
	if config.ParallelWorkers > 0 {
		c.ParallelWorkers = config.ParallelWorkers
	}

	c.OutputBufferSize = defaults.OutputBufferSize
	if config.OutputBufferSize > 0 {
		c.OutputBufferSize = config.OutputBufferSize
	}

	c.WorkerTimeout = defaults.WorkerTimeout

	if config.WorkerTimeout != "" {
		timeout, err := time.ParseDuration(config.WorkerTimeout)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid worker_timeout %q", config.WorkerTimeout)
		}

		c.WorkerTimeout = timeout
	}

	return nil
}

// Validate checks the config for a runnable backtest. Configuration errors
// fail fast before any simulation starts.
func (c *BacktestEngineV1Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest config", err)
	}

	if c.InitialCapital <= 0 {
		return errors.Newf(errors.ErrCodeInvalidCapital, "initial capital must be positive, got %f", c.InitialCapital)
	}

	if len(c.Symbols) == 0 {
		return errors.New(errors.ErrCodeEmptySymbolSet, "at least one symbol is required")
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() && !c.StartTime.Unwrap().Before(c.EndTime.Unwrap()) {
		return errors.Newf(errors.ErrCodeInvalidDateRange, "start time %s must precede end time %s",
			c.StartTime.Unwrap().Format(time.RFC3339), c.EndTime.Unwrap().Format(time.RFC3339))
	}

	if _, err := slippage.New(c.Slippage); err != nil {
		return err
	}

	if _, err := fee.New(c.Fees); err != nil {
		return err
	}

	return nil
}

// GenerateSchemaJSON returns the JSON schema of the engine configuration.
func (c BacktestEngineV1Config) GenerateSchemaJSON() (string, error) {
	return utils.GetSchemaFromConfig(c)
}
