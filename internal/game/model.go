package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MoneyPlaces    = 2
	QuantityPlaces = 4
	PricePlaces    = 4
)

var (
	StarterCash  = decimal.NewFromInt(25_000)
	MinDebtLimit = decimal.NewFromInt(5_000)
	MaxDebtLimit = decimal.NewFromInt(100_000)
	FeeRate      = decimal.RequireFromString("0.0015")

	debtRatio = decimal.RequireFromString("0.35")
)

var (
	ErrInvalidSymbol        = errors.New("symbol must be 1-8 uppercase letters or digits")
	ErrUnknownAsset         = errors.New("asset not in scenario")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrRunNotFound          = errors.New("run not found")
	ErrRunNotFinished       = errors.New("run has days left to play")
	ErrRunFinished          = errors.New("run already finished")
	ErrNoDaysLeft           = errors.New("no days left to play")
	ErrScenarioNotFound     = errors.New("scenario not found")
	ErrVerificationFailed   = errors.New("submission does not match replay")
	ErrUnauthorized         = errors.New("unauthorized")
)

var symbolRE = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,7}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

// PriceOf converts an engine price into a decimal fixed to PricePlaces.
func PriceOf(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(PricePlaces)
}

func ParseQuantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quantity %q is not a number", ErrInvalidOrder, s)
	}
	if err := validateQuantity(q); err != nil {
		return decimal.Zero, err
	}
	return q, nil
}

func validateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidOrder)
	}
	if !q.Round(QuantityPlaces).Equal(q) {
		return fmt.Errorf("%w: quantity has more than %d decimal places", ErrInvalidOrder, QuantityPlaces)
	}
	return nil
}

// DebtLimitFromPeak lets a player go negative by 35% of their peak net
// worth, clamped to [MinDebtLimit, MaxDebtLimit].
func DebtLimitFromPeak(peak decimal.Decimal) decimal.Decimal {
	limit := peak.Mul(debtRatio).Round(MoneyPlaces)
	if limit.LessThan(MinDebtLimit) {
		return MinDebtLimit
	}
	if limit.GreaterThan(MaxDebtLimit) {
		return MaxDebtLimit
	}
	return limit
}

func feeFor(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(FeeRate).Round(MoneyPlaces)
}

func notionalFor(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Round(MoneyPlaces)
}

func UsernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "player"
	}
	return sanitizeUsername(parts[0])
}

func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "player"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}
