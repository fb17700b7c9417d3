package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v2"

	backtest "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	engine_v2 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v2"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/internal/version"
)

// buildSource constructs the bar source selected by the CLI flags.
func buildSource(cmd *cli.Command, symbols []string) (datasource.BarSource, error) {
	switch cmd.String("source") {
	case "synthetic":
		return datasource.NewSyntheticSource(datasource.SyntheticConfig{
			Symbols:    symbols,
			Start:      cmd.Timestamp("start"),
			Bars:       int(cmd.Int("bars")),
			Interval:   cmd.Duration("interval"),
			StartPrice: cmd.Float("start-price"),
			Drift:      cmd.Float("drift"),
			Volatility: cmd.Float("volatility"),
			SpreadBps:  cmd.Float("spread-bps"),
			Seed:       cmd.Int("seed"),
		}), nil
	case "duckdb":
		parquet := cmd.String("parquet")
		if parquet == "" {
			return nil, fmt.Errorf("source duckdb requires --parquet")
		}

		log, err := logger.NewLogger()
		if err != nil {
			return nil, err
		}

		source, err := datasource.NewDuckDBSource(cmd.String("db"), log)
		if err != nil {
			return nil, err
		}

		if err := source.Initialize(parquet); err != nil {
			return nil, fmt.Errorf("failed to load parquet data: %w", err)
		}

		return source, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want synthetic or duckdb)", cmd.String("source"))
	}
}

func buildEngine(cmd *cli.Command) (backtest.Engine, error) {
	switch cmd.String("engine") {
	case "sync":
		return engine_v1.NewBacktestEngineV1(), nil
	case "stream":
		return engine_v2.NewBacktestEngineV2(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (want sync or stream)", cmd.String("engine"))
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	configRaw, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read engine config: %w", err)
	}

	engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}

	if err := engine.Initialize(string(configRaw)); err != nil {
		return err
	}

	var engineConfig engine_v1.BacktestEngineV1Config
	if err := yaml.Unmarshal(configRaw, &engineConfig); err != nil {
		return fmt.Errorf("failed to parse engine config: %w", err)
	}

	source, err := buildSource(cmd, engineConfig.Symbols)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			log.Printf("failed to close bar source: %v", closeErr)
		}
	}()

	if err := engine.SetBarSource(source); err != nil {
		return err
	}

	strat := strategy.NewSMACrossStrategy()

	strategyConfig := fmt.Sprintf("fast_period: %d\nslow_period: %d\nquantity: %g\n",
		cmd.Int("fast"), cmd.Int("slow"), cmd.Float("quantity"))
	if err := strat.Initialize(strategyConfig); err != nil {
		return err
	}

	if err := engine.LoadStrategy(strat); err != nil {
		return err
	}

	if folder := cmd.String("output"); folder != "" {
		if err := engine.SetResultsFolder(folder); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar

	onStart := backtest.OnRunStartCallback(func(runID string, symbols []string, totalBars int) error {
		log.Printf("run %s: %d bars across %v", runID, totalBars, symbols)
		bar = progressbar.Default(int64(totalBars))

		return nil
	})
	onProgress := backtest.OnProcessDataCallback(func(current, total int) error {
		if bar != nil {
			return bar.Set(current)
		}

		return nil
	})

	result, err := engine.Run(ctx, backtest.LifecycleCallbacks{
		OnRunStart:    &onStart,
		OnProcessData: &onProgress,
	})
	if err != nil {
		return err
	}

	printSummary(result)

	if folder := cmd.String("output"); folder != "" {
		log.Printf("results written to %s", folder)
	}

	return nil
}

func printSummary(result *types.BacktestResult) {
	fmt.Println()
	fmt.Printf("Final equity:    %.2f\n", result.Metrics.FinalEquity)
	fmt.Printf("Total return:    %.2f%%\n", result.Metrics.TotalReturn*100)
	fmt.Printf("Sharpe ratio:    %.3f\n", result.Metrics.SharpeRatio)
	fmt.Printf("Sortino ratio:   %.3f\n", result.Metrics.SortinoRatio)
	fmt.Printf("Max drawdown:    %.2f%%\n", result.Metrics.MaxDrawdown*100)
	fmt.Printf("Profit factor:   %.3f\n", result.Metrics.ProfitFactor)
	fmt.Printf("Trades:          %d (%d won, %d lost)\n",
		result.Metrics.TotalTrades, result.Metrics.WinningTrades, result.Metrics.LosingTrades)
	fmt.Printf("Rejected:        %d\n", result.RejectedSignals)
	fmt.Printf("VaR 95 / 99:     %.4f / %.4f\n", result.Risk.VaR95, result.Risk.VaR99)
}

func main() {
	cmd := &cli.Command{
		Name:    "backtest",
		Usage:   "Replay market bars through a strategy against a simulated portfolio",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine configuration YAML",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "engine",
				Usage: "Simulation driver: sync or stream",
				Value: "sync",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Bar source: synthetic or duckdb",
				Value: "synthetic",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "DuckDB database path (empty for in-memory)",
			},
			&cli.StringFlag{
				Name:  "parquet",
				Usage: "Parquet glob with market bars, required for the duckdb source",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Results folder; empty skips persistence",
			},
			&cli.TimestampFlag{
				Name:  "start",
				Usage: "Synthetic series start in `YYYY-MM-DD` format",
				Value: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.IntFlag{
				Name:  "bars",
				Usage: "Synthetic bars per symbol",
				Value: 2000,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Synthetic bar interval",
				Value: time.Minute,
			},
			&cli.FloatFlag{
				Name:  "start-price",
				Usage: "Synthetic starting price",
				Value: 100,
			},
			&cli.FloatFlag{
				Name:  "drift",
				Usage: "Synthetic per-bar drift",
				Value: 0.0001,
			},
			&cli.FloatFlag{
				Name:  "volatility",
				Usage: "Synthetic per-bar volatility",
				Value: 0.005,
			},
			&cli.FloatFlag{
				Name:  "spread-bps",
				Usage: "Synthetic bid/ask spread in basis points",
				Value: 5,
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "Synthetic generator seed",
				Value: 42,
			},
			&cli.IntFlag{
				Name:  "fast",
				Usage: "SMA cross fast period",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "slow",
				Usage: "SMA cross slow period",
				Value: 30,
			},
			&cli.FloatFlag{
				Name:  "quantity",
				Usage: "Fixed entry quantity; 0 sizes entries from available cash",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
