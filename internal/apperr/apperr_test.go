package apperr

import (
	"errors"
	"fmt"
	"testing"

	"stockledger/server/internal/quantity"
)

func TestFromClassifies(t *testing.T) {
	_, qErr := quantity.Parse("0.0005")

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"wrapped not found", fmt.Errorf("sell: %w", ProductNotFound(7)), KindNotFound},
		{"quantity", qErr, KindInvalidQuantity},
		{"plain", errors.New("boom"), KindUnexpected},
		{"lock", LockTimeout(errors.New("55P03")), KindLockTimeout},
	}
	for _, tc := range cases {
		if got := From(tc.err).Kind; got != tc.want {
			t.Errorf("%s: From().Kind = %s, want %s", tc.name, got, tc.want)
		}
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: KindOf = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestUnexpectedHidesCause(t *testing.T) {
	err := Unexpected(errors.New("pq: connection reset"))
	if err.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}
	if err.Error() != "Unexpected: Внутренняя ошибка сервера" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, &Error{Kind: KindUnexpected}) {
		t.Error("errors.Is by kind failed")
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", IngredientNotFound(3))
	if !errors.Is(err, &Error{Kind: KindNotFound, Code: CodeIngredientNotFound}) {
		t.Error("expected IngredientNotFound match")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Code: CodeProductNotFound}) {
		t.Error("ProductNotFound must not match")
	}
}

func TestInsufficientStockMessage(t *testing.T) {
	err := InsufficientStock(StockShortage{
		IngredientID:   1,
		IngredientName: "Молоко",
		Required:       quantity.MustParse("0.200"),
		Available:      quantity.MustParse("0.150"),
	})
	want := "Недостаточно остатка для ингредиента 'Молоко' (ID: 1). Требуется: 0.200, доступно: 0.150"
	if err.Message != want {
		t.Errorf("Message = %q", err.Message)
	}
}
