package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RobertSmithers/ToTheMoon/internal/cache"
	"github.com/RobertSmithers/ToTheMoon/internal/config"
	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/store"
	"github.com/RobertSmithers/ToTheMoon/internal/util"
	"github.com/RobertSmithers/ToTheMoon/internal/vendors"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	symbols := flag.String("symbols", "", "comma-separated symbols to prefetch (default: configured backtest symbol)")
	intervalStr := flag.String("interval", "", "bar interval (default: configured backtest interval)")
	startStr := flag.String("start", "", "range start, YYYY-MM-DD (default: configured start_date)")
	endStr := flag.String("end", "", "range end, YYYY-MM-DD (default: configured end_date)")
	validate := flag.Bool("validate", false, "only check that the vendor recognises each symbol")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	if *symbols == "" {
		*symbols = cfg.Backtest.Symbol
	}
	if *intervalStr == "" {
		*intervalStr = cfg.Backtest.Interval
	}
	if *startStr == "" {
		*startStr = cfg.Backtest.StartDate
	}
	if *endStr == "" {
		*endStr = cfg.Backtest.EndDate
	}

	interval, err := domain.ParseInterval(*intervalStr)
	if err != nil {
		log.Fatalf("invalid interval: %v", err)
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", *startStr, err)
	}
	end, err := time.Parse("2006-01-02", *endStr)
	if err != nil {
		log.Fatalf("invalid end date %q: %v", *endStr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	vendor := vendors.NewAlpacaVendor(
		cfg.Vendor.Alpaca.APIKey,
		cfg.Vendor.Alpaca.APISecret,
		cfg.Vendor.Alpaca.DataURL,
		cfg.Vendor.RateLimitPerMin,
	)

	if *validate {
		for _, sym := range splitSymbols(*symbols) {
			ok, err := vendor.ValidateSymbol(ctx, sym)
			if err != nil {
				log.Fatalf("validating %s: %v", sym, err)
			}
			fmt.Printf("%s: ok=%v\n", sym, ok)
		}
		return
	}

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer sqlite.Close()

	loader := cache.NewLoader(vendor, store.NewParquetStore(cfg.Storage.DataDir), sqlite, cfg.Vendor.RetryAttempts)
	for _, sym := range splitSymbols(*symbols) {
		series, err := loader.Load(ctx, sym, interval, start, end)
		if err != nil {
			log.Fatalf("prefetching %s: %v", sym, err)
		}
		first, _ := series.First()
		last, _ := series.Last()
		fmt.Printf("%s %s: %d bars cached [%s .. %s]\n", sym, interval, series.Len(),
			first.Timestamp.Format("2006-01-02"), last.Timestamp.Format("2006-01-02"))
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("MOON_CONFIG"); p != "" {
		return p
	}
	return "config/moon.yaml"
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
