package game

import (
	"errors"
	"testing"
)

func TestPortfolioBuySell(t *testing.T) {
	p := NewPortfolio()
	fill, err := p.Apply(Order{Symbol: "ORE", Side: SideBuy, Quantity: d("10")}, d("100"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !fill.Notional.Equal(d("1000")) || !fill.Fee.Equal(d("1.5")) {
		t.Fatalf("notional=%s fee=%s", fill.Notional, fill.Fee)
	}
	if !p.Cash.Equal(d("23998.5")) {
		t.Fatalf("cash = %s", p.Cash)
	}

	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideBuy, Quantity: d("10")}, d("120")); err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if avg := p.Positions["ORE"].AvgPrice; !avg.Equal(d("110")) {
		t.Fatalf("avg price = %s want 110", avg)
	}

	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideSell, Quantity: d("25")}, d("120")); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideSell, Quantity: d("20")}, d("130")); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, ok := p.Positions["ORE"]; ok {
		t.Fatalf("empty position kept")
	}
}

func TestPortfolioDebtLimit(t *testing.T) {
	p := NewPortfolio()
	// 25k cash + 8.75k debt limit.
	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideBuy, Quantity: d("400")}, d("100")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !p.Cash.Equal(StarterCash) || len(p.Positions) != 0 {
		t.Fatalf("rejected order mutated portfolio")
	}
	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideBuy, Quantity: d("300")}, d("100")); err != nil {
		t.Fatalf("margin buy within limit: %v", err)
	}
	if !p.Cash.IsNegative() {
		t.Fatalf("expected negative cash after margin buy, got %s", p.Cash)
	}
}

func TestMaxAffordableBuy(t *testing.T) {
	price := d("840")
	cash := d("19025")
	debt := DebtLimitFromPeak(d("25000"))

	qty, notional, fee := MaxAffordableBuy(price, cash, debt)
	if !qty.IsPositive() {
		t.Fatalf("expected affordable quantity > 0")
	}
	budget := cash.Add(debt)
	if notional.Add(fee).GreaterThan(budget) {
		t.Fatalf("total %s exceeds budget %s", notional.Add(fee), budget)
	}
	next := qty.Add(d("0.0001"))
	nextNotional := notionalFor(price, next)
	if nextNotional.Add(feeFor(nextNotional)).LessThanOrEqual(budget) {
		t.Fatalf("quantity %s is not maximal", qty)
	}
}

func TestNetWorthAndPeak(t *testing.T) {
	p := NewPortfolio()
	if _, err := p.Apply(Order{Symbol: "ORE", Side: SideBuy, Quantity: d("100")}, d("100")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	nw := p.Mark(map[string]float64{"ORE": 150})
	if !nw.Equal(d("29985")) {
		t.Fatalf("net worth = %s", nw)
	}
	if !p.Peak.Equal(nw) {
		t.Fatalf("peak not raised")
	}
	p.Mark(map[string]float64{"ORE": 50})
	if !p.Peak.Equal(nw) {
		t.Fatalf("peak lowered on a down day")
	}
}
