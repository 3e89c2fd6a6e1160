package vendors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/util"
)

// Compile-time interface check.
var _ SecuritiesVendor = (*AlpacaVendor)(nil)

// AlpacaVendor implements SecuritiesVendor using the Alpaca market-data API.
type AlpacaVendor struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaVendor creates an AlpacaVendor configured with the given
// credentials and data endpoint. ratePerMin bounds outbound API calls.
func NewAlpacaVendor(apiKey, apiSecret, dataURL string, ratePerMin int) *AlpacaVendor {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaVendor{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(ratePerMin),
		log:     slog.Default().With("vendor", "alpaca"),
	}
}

// Name returns "alpaca".
func (v *AlpacaVendor) Name() string { return "alpaca" }

// FetchBars retrieves historical bars from the Alpaca market-data API.
func (v *AlpacaVendor) FetchBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	tf, err := timeFrame(interval)
	if err != nil {
		return nil, err
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	alpacaBars, err := v.client.GetBars(strings.ToUpper(symbol), marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GetBars %s %s [%s, %s): %v",
			domain.ErrVendorUnavailable, symbol, interval,
			start.Format("2006-01-02"), end.Format("2006-01-02"), err)
	}
	if len(alpacaBars) == 0 {
		return nil, fmt.Errorf("%w: %s %s [%s, %s)",
			domain.ErrNoData, symbol, interval,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	v.log.Debug("fetched bars", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// ValidateSymbol probes the most recent month of daily bars for the symbol.
func (v *AlpacaVendor) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	end := time.Now().UTC()
	_, err := v.FetchBars(ctx, symbol, domain.Interval1Day, end.AddDate(0, -1, 0), end)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// timeFrame maps a domain interval to the Alpaca TimeFrame type.
func timeFrame(interval domain.Interval) (marketdata.TimeFrame, error) {
	switch interval {
	case domain.Interval1Min:
		return marketdata.OneMin, nil
	case domain.Interval5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Interval15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Interval30Min:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case domain.Interval1Hour:
		return marketdata.OneHour, nil
	case domain.Interval1Day:
		return marketdata.OneDay, nil
	case domain.Interval1Week:
		return marketdata.OneWeek, nil
	case domain.Interval1Mo:
		return marketdata.OneMonth, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
	}
}
