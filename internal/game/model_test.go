package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidateSymbol(t *testing.T) {
	valid := []string{"ORE", "CU", "TEKX", "A1"}
	for _, s := range valid {
		if err := ValidateSymbol(s); err != nil {
			t.Fatalf("expected symbol %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"ore", "1ABC", "TOOLONGSYM", "A_B", ""}
	for _, s := range invalid {
		if err := ValidateSymbol(s); err == nil {
			t.Fatalf("expected symbol %q to fail", s)
		}
	}
}

func TestDebtLimitFromPeak(t *testing.T) {
	tests := []struct {
		peak string
		want decimal.Decimal
	}{
		{peak: "0", want: MinDebtLimit},
		{peak: "10000", want: MinDebtLimit},
		{peak: "40000", want: d("14000")},
		{peak: "1000000", want: MaxDebtLimit},
	}
	for _, tc := range tests {
		got := DebtLimitFromPeak(d(tc.peak))
		if !got.Equal(tc.want) {
			t.Fatalf("peak=%s got=%s want=%s", tc.peak, got, tc.want)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	if q, err := ParseQuantity("2.5"); err != nil || !q.Equal(d("2.5")) {
		t.Fatalf("2.5 -> %s, %v", q, err)
	}
	for _, bad := range []string{"0", "-1", "abc", "1.00001"} {
		if _, err := ParseQuantity(bad); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("%q: expected ErrInvalidOrder, got %v", bad, err)
		}
	}
}

func TestParseBoard(t *testing.T) {
	for in, want := range map[string]Board{"daily": BoardDaily, "All-Time": BoardAllTime, "worst": BoardWorst} {
		got, err := ParseBoard(in)
		if err != nil || got != want {
			t.Fatalf("ParseBoard(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseBoard("friends"); err == nil {
		t.Fatalf("expected unknown board to fail")
	}
}

func TestSanitizeUsername(t *testing.T) {
	if got := UsernameFromEmail("Jo.Trader@example.com"); got != "jo_trader" {
		t.Fatalf("got %q", got)
	}
	if got := UsernameFromEmail(""); got != "player" {
		t.Fatalf("got %q", got)
	}
}
