package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/backtest"
	"github.com/RobertSmithers/ToTheMoon/internal/broker"
	"github.com/RobertSmithers/ToTheMoon/internal/cache"
	"github.com/RobertSmithers/ToTheMoon/internal/config"
	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/store"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy/builtins"
	"github.com/RobertSmithers/ToTheMoon/internal/util"
	"github.com/RobertSmithers/ToTheMoon/internal/vendors"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	stratName := flag.String("strategy", "", "override the configured strategy name")
	sweep := flag.Bool("sweep", false, "run the configured parameter sweep instead of a single backtest")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	if *stratName != "" {
		cfg.Backtest.Strategy.Name = *stratName
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interval, err := domain.ParseInterval(cfg.Backtest.Interval)
	if err != nil {
		log.Fatalf("invalid interval: %v", err)
	}
	start, end, err := parseDates(cfg.Backtest.StartDate, cfg.Backtest.EndDate)
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer sqlite.Close()

	vendorReg := vendors.NewRegistry()
	vendorReg.Register(vendors.NewAlpacaVendor(
		cfg.Vendor.Alpaca.APIKey,
		cfg.Vendor.Alpaca.APISecret,
		cfg.Vendor.Alpaca.DataURL,
		cfg.Vendor.RateLimitPerMin,
	))
	vendor, ok := vendorReg.Get(cfg.Vendor.Name)
	if !ok {
		log.Fatalf("unknown vendor %q (available: %v)", cfg.Vendor.Name, vendorReg.List())
	}

	loader := cache.NewLoader(vendor, store.NewParquetStore(cfg.Storage.DataDir), sqlite, cfg.Vendor.RetryAttempts)
	series, err := loader.Load(ctx, cfg.Backtest.Symbol, interval, start, end)
	if err != nil {
		log.Fatalf("failed to load bars: %v", err)
	}

	stratReg := strategy.NewRegistry()
	builtins.RegisterAll(stratReg)

	runCfg := backtest.RunConfig{
		InitialCash: decimal.NewFromFloat(cfg.Backtest.InitialCash),
		Cost: broker.NewCostModel(
			cfg.Backtest.CostModel.CommissionPerShare,
			cfg.Backtest.CostModel.CommissionPct,
			cfg.Backtest.CostModel.SlippageBps,
		),
		AllowShort: cfg.Backtest.AllowShort,
	}
	annualization := cfg.Backtest.AnnualizationFactor
	if annualization == 0 {
		annualization = interval.AnnualizationFactor()
	}

	engine := backtest.NewEngine()
	if *sweep {
		if err := runSweep(ctx, engine, series, stratReg, cfg, runCfg, annualization); err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		return
	}
	if err := runSingle(ctx, engine, series, stratReg, sqlite, cfg, runCfg, interval, start, end, annualization); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("MOON_CONFIG"); p != "" {
		return p
	}
	return "config/moon.yaml"
}

func parseDates(startStr, endStr string) (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", startStr)
	if err != nil {
		return start, end, fmt.Errorf("start_date %q: %w", startStr, err)
	}
	end, err = time.Parse("2006-01-02", endStr)
	if err != nil {
		return start, end, fmt.Errorf("end_date %q: %w", endStr, err)
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("start_date %s is not before end_date %s", startStr, endStr)
	}
	return start, end, nil
}

func runSingle(ctx context.Context, engine *backtest.Engine, series *domain.BarSeries, reg *strategy.Registry, runs store.RunStore, cfg *config.Config, runCfg backtest.RunConfig, interval domain.Interval, start, end time.Time, annualization float64) error {
	strat, err := reg.New(cfg.Backtest.Strategy.Name, cfg.Backtest.Strategy.Params)
	if err != nil {
		return err
	}

	res, err := engine.Run(ctx, series, strat, runCfg)
	if err != nil {
		return err
	}
	metrics, err := backtest.Analyze(res.EquityCurve, res.Fills, annualization)
	if err != nil {
		return err
	}

	printReport(cfg, series, res, metrics)

	paramsJSON, err := json.Marshal(cfg.Backtest.Strategy.Params)
	if err != nil {
		return fmt.Errorf("encoding strategy params: %w", err)
	}
	id, err := runs.SaveRun(ctx, &store.RunRecord{
		Symbol:      cfg.Backtest.Symbol,
		Interval:    interval,
		Strategy:    cfg.Backtest.Strategy.Name,
		ParamsJSON:  string(paramsJSON),
		Start:       start,
		End:         end,
		InitialCash: cfg.Backtest.InitialCash,
		Metrics:     metricsMap(metrics),
		Curve:       res.EquityCurve,
	})
	if err != nil {
		return fmt.Errorf("archiving run: %w", err)
	}
	fmt.Printf("archived as run #%d\n", id)
	return nil
}

func runSweep(ctx context.Context, engine *backtest.Engine, series *domain.BarSeries, reg *strategy.Registry, cfg *config.Config, runCfg backtest.RunConfig, annualization float64) error {
	var grid []backtest.ParamSet
	for _, short := range cfg.Sweep.ShortPeriods {
		for _, long := range cfg.Sweep.LongPeriods {
			if short < long {
				grid = append(grid, backtest.ParamSet{"short": float64(short), "long": float64(long)})
			}
		}
	}
	if len(grid) == 0 {
		return fmt.Errorf("sweep grid is empty (short_periods=%v long_periods=%v)", cfg.Sweep.ShortPeriods, cfg.Sweep.LongPeriods)
	}

	name := cfg.Backtest.Strategy.Name
	factory := func(params map[string]float64) (strategy.Strategy, error) {
		return reg.New(name, params)
	}

	bar := progressbar.Default(int64(len(grid)), "sweeping")
	results, err := engine.Sweep(ctx, series, factory, grid, runCfg, annualization, backtest.SweepOptions{
		MaxWorkers: cfg.Sweep.MaxWorkers,
		Progress:   func(done, total int) { _ = bar.Add(1) },
	})
	if err != nil {
		return err
	}
	_ = bar.Finish()

	// Best first by Sharpe; failed runs sink to the bottom.
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := math.Inf(-1), math.Inf(-1)
		if results[i].Metrics != nil {
			si = results[i].Metrics.Sharpe
		}
		if results[j].Metrics != nil {
			sj = results[j].Metrics.Sharpe
		}
		return si > sj
	})

	fmt.Printf("%-8s %-8s %12s %10s %10s %8s\n", "short", "long", "total_ret", "sharpe", "max_dd", "trades")
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-8.0f %-8.0f failed: %v\n", r.Params["short"], r.Params["long"], r.Err)
			continue
		}
		m := r.Metrics
		fmt.Printf("%-8.0f %-8.0f %11.2f%% %10.2f %9.2f%% %8d\n",
			r.Params["short"], r.Params["long"],
			m.TotalReturn*100, m.Sharpe, m.MaxDrawdown*100, m.TotalTrades)
	}
	return nil
}

func printReport(cfg *config.Config, series *domain.BarSeries, res *backtest.Result, m *backtest.Metrics) {
	fmt.Printf("%s %s %s, %d bars\n", cfg.Backtest.Symbol, cfg.Backtest.Interval, cfg.Backtest.Strategy.Name, series.Len())
	fmt.Printf("  initial cash:      %.2f\n", cfg.Backtest.InitialCash)
	fmt.Printf("  final equity:      %.2f\n", res.EquityCurve[len(res.EquityCurve)-1].Equity)
	fmt.Printf("  total return:      %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("  annualized return: %.2f%%\n", m.AnnualizedReturn*100)
	fmt.Printf("  sharpe:            %.2f\n", m.Sharpe)
	fmt.Printf("  max drawdown:      %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("  volatility:        %.2f%%\n", m.Volatility*100)
	fmt.Printf("  trades:            %d (win rate %.1f%%, profit factor %.2f)\n", m.TotalTrades, m.WinRate*100, m.ProfitFactor)
	fmt.Printf("  fills:             %d accepted, %d rejected, %d expired\n", len(res.Fills), len(res.Rejected), len(res.ExpiredOrders))
}

func metricsMap(m *backtest.Metrics) map[string]float64 {
	return map[string]float64{
		"total_return":      m.TotalReturn,
		"annualized_return": m.AnnualizedReturn,
		"sharpe":            m.Sharpe,
		"max_drawdown":      m.MaxDrawdown,
		"volatility":        m.Volatility,
		"total_trades":      float64(m.TotalTrades),
		"win_rate":          m.WinRate,
		"profit_factor":     m.ProfitFactor,
	}
}
