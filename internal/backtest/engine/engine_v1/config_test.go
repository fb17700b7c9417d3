package engine

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v2"

	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/fee"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/slippage"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestUnmarshalYAML() {
	raw := `
initial_capital: 10000
symbols:
  - AAPL
  - MSFT
start_time: 2024-01-02T00:00:00Z
slippage:
  model: fixed
  base_bps: 10
fees:
  model: taker_maker
  taker_rate: 0.001
  maker_rate: 0.0005
stop_loss_pct: 0.05
worker_timeout: 250ms
`

	var config BacktestEngineV1Config
	err := yaml.Unmarshal([]byte(raw), &config)
	suite.Require().NoError(err)

	suite.Equal(10000.0, config.InitialCapital)
	suite.Equal([]string{"AAPL", "MSFT"}, config.Symbols)
	suite.True(config.StartTime.IsSome())
	suite.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), config.StartTime.Unwrap())
	suite.True(config.EndTime.IsNone())
	suite.Equal(slippage.ModelFixed, config.Slippage.Model)
	suite.Equal(10.0, config.Slippage.BaseBps)
	suite.Equal(0.001, config.Fees.TakerRate)
	suite.True(config.StopLossPct.IsSome())
	suite.Equal(0.05, config.StopLossPct.Unwrap())
	suite.True(config.TakeProfitPct.IsNone())
	suite.Equal(250*time.Millisecond, config.WorkerTimeout)
}

func (suite *ConfigTestSuite) TestUnmarshalYAMLDefaults() {
	raw := `
initial_capital: 5000
symbols:
  - BTC-USD
`

	var config BacktestEngineV1Config
	err := yaml.Unmarshal([]byte(raw), &config)
	suite.Require().NoError(err)

	suite.Equal(4, config.DecimalPrecision)
	suite.True(config.CloseOnFinish)
	suite.Equal(256, config.ChunkSize)
	suite.Equal(4, config.ParallelWorkers)
	suite.Equal(5*time.Second, config.WorkerTimeout)
	suite.Equal(1024, config.OutputBufferSize)
}

func (suite *ConfigTestSuite) TestUnmarshalYAMLInvalidTimeout() {
	raw := `
initial_capital: 5000
symbols:
  - BTC-USD
worker_timeout: soon
`

	var config BacktestEngineV1Config
	err := yaml.Unmarshal([]byte(raw), &config)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestValidate() {
	tests := []struct {
		name     string
		mutate   func(config *BacktestEngineV1Config)
		wantCode errors.ErrorCode
	}{
		{
			name:   "valid config",
			mutate: func(config *BacktestEngineV1Config) {},
		},
		{
			name: "zero capital",
			mutate: func(config *BacktestEngineV1Config) {
				config.InitialCapital = 0
			},
			wantCode: errors.ErrCodeInvalidConfiguration,
		},
		{
			name: "no symbols",
			mutate: func(config *BacktestEngineV1Config) {
				config.Symbols = nil
			},
			wantCode: errors.ErrCodeInvalidConfiguration,
		},
		{
			name: "start after end",
			mutate: func(config *BacktestEngineV1Config) {
				config.StartTime = optional.Some(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
				config.EndTime = optional.Some(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			},
			wantCode: errors.ErrCodeInvalidDateRange,
		},
		{
			name: "unknown slippage model",
			mutate: func(config *BacktestEngineV1Config) {
				config.Slippage.Model = "quantum"
			},
			wantCode: errors.ErrCodeInvalidSlippageModel,
		},
		{
			name: "unknown fee model",
			mutate: func(config *BacktestEngineV1Config) {
				config.Fees.Model = "percentage"
			},
			wantCode: errors.ErrCodeInvalidFeeModel,
		},
		{
			name: "position size above one",
			mutate: func(config *BacktestEngineV1Config) {
				config.MaxPositionSize = 1.5
			},
			wantCode: errors.ErrCodeInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			config := TestConfig("AAPL", 10000)
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantCode == 0 {
				suite.NoError(err)
				return
			}

			suite.Require().Error(err)
			suite.True(errors.HasCode(err, tt.wantCode))
		})
	}
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	config := EmptyConfig()

	schema, err := config.GenerateSchemaJSON()
	suite.Require().NoError(err)
	suite.Contains(schema, "initial_capital")
	suite.Contains(schema, "slippage")
}

func (suite *ConfigTestSuite) TestTestConfig() {
	config := TestConfig("AAPL", 10000)
	suite.NoError(config.Validate())
	suite.Equal(slippage.ModelFixed, config.Slippage.Model)
	suite.Equal(fee.ModelTakerMaker, config.Fees.Model)
}
