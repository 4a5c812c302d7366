package game

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
}

// Order is a trade placed after Day days of the run have been played, at
// the prices observed at that point.
type Order struct {
	Day      int             `json:"day"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

type Fill struct {
	Order
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Fee      decimal.Decimal `json:"fee"`
	Cash     decimal.Decimal `json:"cash"`
}

type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Portfolio is a player's cash and holdings within one run. Cash may go
// negative down to the debt limit derived from Peak.
type Portfolio struct {
	Cash      decimal.Decimal     `json:"cash"`
	Peak      decimal.Decimal     `json:"peak"`
	Positions map[string]Position `json:"positions"`
}

func NewPortfolio() *Portfolio {
	return &Portfolio{
		Cash:      StarterCash,
		Peak:      StarterCash,
		Positions: map[string]Position{},
	}
}

func (p *Portfolio) DebtLimit() decimal.Decimal {
	return DebtLimitFromPeak(p.Peak)
}

// Apply executes o at price. On error the portfolio is unchanged.
func (p *Portfolio) Apply(o Order, price decimal.Decimal) (Fill, error) {
	if err := validateQuantity(o.Quantity); err != nil {
		return Fill{}, err
	}
	if !price.IsPositive() {
		return Fill{}, fmt.Errorf("%w: no price for %s", ErrInvalidOrder, o.Symbol)
	}
	notional := notionalFor(price, o.Quantity)
	fee := feeFor(notional)
	fill := Fill{Order: o, Price: price, Notional: notional, Fee: fee}

	switch o.Side {
	case SideBuy:
		next := p.Cash.Sub(notional).Sub(fee)
		limit := p.DebtLimit()
		if next.LessThan(limit.Neg()) {
			maxQty, maxNotional, maxFee := MaxAffordableBuy(price, p.Cash, limit)
			return Fill{}, fmt.Errorf("%w: max buy %s shares (notional %s + fee %s)",
				ErrInsufficientFunds, maxQty.StringFixed(QuantityPlaces), maxNotional.StringFixed(MoneyPlaces), maxFee.StringFixed(MoneyPlaces))
		}
		pos := p.Positions[o.Symbol]
		total := pos.Quantity.Add(o.Quantity)
		cost := pos.Quantity.Mul(pos.AvgPrice).Add(o.Quantity.Mul(price))
		p.Positions[o.Symbol] = Position{Quantity: total, AvgPrice: cost.Div(total).Round(PricePlaces)}
		p.Cash = next
	case SideSell:
		pos, ok := p.Positions[o.Symbol]
		if !ok || pos.Quantity.LessThan(o.Quantity) {
			return Fill{}, ErrInsufficientShares
		}
		left := pos.Quantity.Sub(o.Quantity)
		if left.IsZero() {
			delete(p.Positions, o.Symbol)
		} else {
			p.Positions[o.Symbol] = Position{Quantity: left, AvgPrice: pos.AvgPrice}
		}
		p.Cash = p.Cash.Add(notional).Sub(fee)
	default:
		return Fill{}, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	fill.Cash = p.Cash
	return fill, nil
}

// NetWorth is cash plus every holding marked at prices.
func (p *Portfolio) NetWorth(prices map[string]float64) decimal.Decimal {
	total := p.Cash
	for sym, pos := range p.Positions {
		total = total.Add(notionalFor(PriceOf(prices[sym]), pos.Quantity))
	}
	return total
}

// Mark updates Peak from the current net worth and returns it.
func (p *Portfolio) Mark(prices map[string]float64) decimal.Decimal {
	nw := p.NetWorth(prices)
	if nw.GreaterThan(p.Peak) {
		p.Peak = nw
	}
	return nw
}

func (p *Portfolio) Views(prices map[string]float64) []PositionView {
	out := make([]PositionView, 0, len(p.Positions))
	for sym, pos := range p.Positions {
		price := PriceOf(prices[sym])
		value := notionalFor(price, pos.Quantity)
		out = append(out, PositionView{
			Symbol:     sym,
			Quantity:   pos.Quantity,
			AvgPrice:   pos.AvgPrice,
			Price:      price,
			Value:      value,
			Unrealized: value.Sub(notionalFor(pos.AvgPrice, pos.Quantity)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// MaxAffordableBuy finds the largest quantity whose notional plus fee fits
// within cash plus the debt limit.
func MaxAffordableBuy(price, cash, debtLimit decimal.Decimal) (qty, notional, fee decimal.Decimal) {
	qty, notional, fee = decimal.Zero, decimal.Zero, decimal.Zero
	if !price.IsPositive() {
		return
	}
	budget := cash.Add(debtLimit)
	if !budget.IsPositive() {
		return
	}
	step := decimal.New(1, -QuantityPlaces)
	hi := budget.Div(price).Div(step).Floor().IntPart()
	lo := int64(0)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		q := decimal.NewFromInt(mid).Mul(step)
		n := notionalFor(price, q)
		f := feeFor(n)
		if n.Add(f).LessThanOrEqual(budget) {
			qty, notional, fee = q, n, f
			lo = mid + 1
			continue
		}
		hi = mid - 1
	}
	return
}
