package broker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fillTime = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func order(side domain.OrderSide, qty int64) domain.Order {
	return domain.Order{Symbol: "AAPL", Side: side, Qty: qty, SubmittedAt: fillTime}
}

func TestFillBuyNoCosts(t *testing.T) {
	s := NewSimulator(d("10000"), CostModel{}, false)

	res := s.Fill(order(domain.OrderSideBuy, 10), 100, fillTime)
	if !res.Accepted {
		t.Fatalf("Fill rejected with reason %q", res.Reason)
	}
	if !res.ExecPrice.Equal(d("100")) {
		t.Errorf("ExecPrice = %s, want 100", res.ExecPrice)
	}
	if !res.Fee.IsZero() {
		t.Errorf("Fee = %s, want 0", res.Fee)
	}

	view := s.Snapshot()
	if !view.Cash.Equal(d("9000")) {
		t.Errorf("Cash = %s, want 9000", view.Cash)
	}
	if got := view.QtyOf("AAPL"); !got.Equal(d("10")) {
		t.Errorf("QtyOf(AAPL) = %s, want 10", got)
	}
	if got := view.Positions["AAPL"].AvgCost; !got.Equal(d("100")) {
		t.Errorf("AvgCost = %s, want 100", got)
	}
}

func TestFillSlippageDirection(t *testing.T) {
	// 10 bps on a 100 reference price moves execution by 0.10.
	cost := NewCostModel(0, 0, 10)
	s := NewSimulator(d("100000"), cost, true)

	buy := s.Fill(order(domain.OrderSideBuy, 1), 100, fillTime)
	if !buy.ExecPrice.Equal(d("100.1")) {
		t.Errorf("buy ExecPrice = %s, want 100.1", buy.ExecPrice)
	}

	sell := s.Fill(order(domain.OrderSideSell, 1), 100, fillTime)
	if !sell.ExecPrice.Equal(d("99.9")) {
		t.Errorf("sell ExecPrice = %s, want 99.9", sell.ExecPrice)
	}
}

func TestFillFeeIsMaxOfComponents(t *testing.T) {
	// Per-share 0.01 vs 0.1% of notional: crossover at a 10 price.
	cost := NewCostModel(0.01, 0.001, 0)
	s := NewSimulator(d("100000"), cost, false)

	// 10 shares at 5: per-share 0.10 beats pct 0.05.
	res := s.Fill(order(domain.OrderSideBuy, 10), 5, fillTime)
	if !res.Fee.Equal(d("0.1")) {
		t.Errorf("Fee = %s, want 0.1 (per-share component)", res.Fee)
	}

	// 10 shares at 100: pct 1.00 beats per-share 0.10.
	res = s.Fill(order(domain.OrderSideBuy, 10), 100, fillTime)
	if !res.Fee.Equal(d("1")) {
		t.Errorf("Fee = %s, want 1 (pct component)", res.Fee)
	}
}

func TestFillRejections(t *testing.T) {
	tests := []struct {
		name  string
		cash  string
		cost  CostModel
		setup func(*Simulator)
		order domain.Order
		want  domain.RejectReason
	}{
		{
			name:  "zero qty",
			cash:  "10000",
			order: order(domain.OrderSideBuy, 0),
			want:  domain.RejectInvalidQty,
		},
		{
			name:  "negative qty",
			cash:  "10000",
			order: order(domain.OrderSideSell, -5),
			want:  domain.RejectInvalidQty,
		},
		{
			name:  "buy exceeds cash",
			cash:  "500",
			order: order(domain.OrderSideBuy, 10),
			want:  domain.RejectInsufficientCash,
		},
		{
			name:  "buy exceeds cash after fee",
			cash:  "1000",
			cost:  NewCostModel(0.01, 0, 0),
			order: order(domain.OrderSideBuy, 10), // notional exactly 1000, fee pushes over
			want:  domain.RejectInsufficientCash,
		},
		{
			name:  "sell with no position",
			cash:  "10000",
			order: order(domain.OrderSideSell, 1),
			want:  domain.RejectInsufficientPosition,
		},
		{
			name: "sell more than held",
			cash: "10000",
			setup: func(s *Simulator) {
				s.Fill(order(domain.OrderSideBuy, 5), 100, fillTime)
			},
			order: order(domain.OrderSideSell, 6),
			want:  domain.RejectInsufficientPosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSimulator(d(tt.cash), tt.cost, false)
			if tt.setup != nil {
				tt.setup(s)
			}
			before := s.Snapshot()

			res := s.Fill(tt.order, 100, fillTime)
			if res.Accepted {
				t.Fatal("Fill accepted, want rejection")
			}
			if res.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.want)
			}

			// Rejection must leave the portfolio untouched.
			after := s.Snapshot()
			if !after.Cash.Equal(before.Cash) {
				t.Errorf("Cash changed on rejection: %s -> %s", before.Cash, after.Cash)
			}
			if !after.QtyOf("AAPL").Equal(before.QtyOf("AAPL")) {
				t.Errorf("position changed on rejection")
			}
		})
	}
}

func TestFillWeightedAverageCost(t *testing.T) {
	s := NewSimulator(d("100000"), CostModel{}, false)

	s.Fill(order(domain.OrderSideBuy, 10), 100, fillTime)
	s.Fill(order(domain.OrderSideBuy, 30), 120, fillTime)

	pos := s.Snapshot().Positions["AAPL"]
	if !pos.Qty.Equal(d("40")) {
		t.Errorf("Qty = %s, want 40", pos.Qty)
	}
	// (10*100 + 30*120) / 40 = 115
	if !pos.AvgCost.Equal(d("115")) {
		t.Errorf("AvgCost = %s, want 115", pos.AvgCost)
	}
}

func TestFillRealizedPnL(t *testing.T) {
	s := NewSimulator(d("100000"), CostModel{}, false)

	s.Fill(order(domain.OrderSideBuy, 10), 100, fillTime)
	s.Fill(order(domain.OrderSideSell, 4), 110, fillTime)

	view := s.Snapshot()
	// 4 shares closed at +10 each.
	if !view.RealizedPnL.Equal(d("40")) {
		t.Errorf("RealizedPnL = %s, want 40", view.RealizedPnL)
	}
	pos := view.Positions["AAPL"]
	if !pos.Qty.Equal(d("6")) {
		t.Errorf("Qty = %s, want 6", pos.Qty)
	}
	// Partial close does not disturb the basis.
	if !pos.AvgCost.Equal(d("100")) {
		t.Errorf("AvgCost = %s, want 100", pos.AvgCost)
	}

	// Close the remainder at a loss.
	s.Fill(order(domain.OrderSideSell, 6), 95, fillTime)
	view = s.Snapshot()
	if !view.RealizedPnL.Equal(d("10")) {
		t.Errorf("RealizedPnL = %s, want 10 (40 - 30)", view.RealizedPnL)
	}
	if _, ok := view.Positions["AAPL"]; ok {
		t.Error("closed position still present")
	}
}

func TestFillShortSale(t *testing.T) {
	s := NewSimulator(d("10000"), CostModel{}, true)

	res := s.Fill(order(domain.OrderSideSell, 10), 100, fillTime)
	if !res.Accepted {
		t.Fatalf("short sale rejected with reason %q", res.Reason)
	}

	view := s.Snapshot()
	if !view.Cash.Equal(d("11000")) {
		t.Errorf("Cash = %s, want 11000", view.Cash)
	}
	pos := view.Positions["AAPL"]
	if !pos.Qty.Equal(d("-10")) {
		t.Errorf("Qty = %s, want -10", pos.Qty)
	}

	// Cover at a lower price for a gain.
	s.Fill(order(domain.OrderSideBuy, 10), 90, fillTime)
	view = s.Snapshot()
	if !view.RealizedPnL.Equal(d("100")) {
		t.Errorf("RealizedPnL = %s, want 100", view.RealizedPnL)
	}
	if _, ok := view.Positions["AAPL"]; ok {
		t.Error("covered short still present")
	}
}

func TestFillEquityConservedWithoutCosts(t *testing.T) {
	s := NewSimulator(d("10000"), CostModel{}, false)
	mark := map[string]decimal.Decimal{"AAPL": d("100")}

	before := s.Equity(mark)
	s.Fill(order(domain.OrderSideBuy, 25), 100, fillTime)
	after := s.Equity(mark)

	if !after.Equal(before) {
		t.Errorf("equity changed across zero-cost fill: %s -> %s", before, after)
	}
}
