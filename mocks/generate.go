package mocks

//go:generate mockgen -destination=./mock_datasource.go -package=mocks github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource BarSource
//go:generate mockgen -destination=./mock_strategy.go -package=mocks github.com/rxtech-lab/argo-portfolio/internal/strategy Strategy
