package models

import (
	"testing"

	"stockledger/server/internal/quantity"
)

func TestMovementKindDirection(t *testing.T) {
	cases := map[MovementKind]int{
		MovementPurchaseIn:    1,
		MovementSaleOut:       -1,
		MovementAdjustmentIn:  1,
		MovementAdjustmentOut: -1,
		"RETURN_IN":           1,
		"WASTE_OUT":           -1,
	}
	for kind, want := range cases {
		if got := kind.Direction(); got != want {
			t.Errorf("%s.Direction() = %d, want %d", kind, got, want)
		}
	}
}

func TestNormalizeMovementKind(t *testing.T) {
	if got := NormalizeMovementKind("  purchase_in "); got != MovementPurchaseIn {
		t.Errorf("got %q", got)
	}
}

func TestMovementSigned(t *testing.T) {
	m := Movement{Kind: MovementSaleOut, Magnitude: quantity.MustParse("0.400")}
	if got := m.Signed().String(); got != "-0.400" {
		t.Errorf("Signed = %s", got)
	}
	m.Kind = MovementPurchaseIn
	if got := m.Signed().String(); got != "0.400" {
		t.Errorf("Signed = %s", got)
	}
}
