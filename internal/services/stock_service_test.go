package services

import (
	"context"
	"sync"
	"testing"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

func TestRecordEntryPurchase(t *testing.T) {
	f := newFixture(t)
	milk := f.ingredient(t, "Молоко", "10.000", "2.000")

	res, err := f.stock.RecordEntry(context.Background(), &models.EntryRequest{
		IngredientID: milk.ID,
		Quantity:     num("5.500"),
		MovementKind: "PURCHASE_IN",
	})
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	assertQty(t, res.Ingredient.CurrentStock, "15.500")
	assertQty(t, f.stockOf(t, milk.ID), "15.500")

	movements, err := f.store.ListMovements(context.Background(), ledger.MovementFilter{IngredientID: milk.ID})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("movements = %d, want 1", len(movements))
	}
	m := movements[0]
	if m.Kind != models.MovementPurchaseIn {
		t.Errorf("kind = %s", m.Kind)
	}
	assertQty(t, m.Magnitude, "5.500")
	if res.Movement.ID != m.ID {
		t.Errorf("response movement id = %d, stored %d", res.Movement.ID, m.ID)
	}

	published := f.recorder.Drain()
	if len(published) != 1 {
		t.Fatalf("events = %d, want 1", len(published))
	}
	assertQty(t, published[0].ResultingStock, "15.500")
	if published[0].BelowMinimum {
		t.Error("15.5 above minimum 2 must not be flagged")
	}
}

func TestRecordEntryDefaultsToPurchase(t *testing.T) {
	f := newFixture(t)
	sugar := f.ingredient(t, "Сахар", "0", "0")

	res, err := f.stock.RecordEntry(context.Background(), &models.EntryRequest{
		IngredientID: sugar.ID,
		Quantity:     num("1"),
	})
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	if res.Movement.Kind != models.MovementPurchaseIn {
		t.Errorf("kind = %s, want PURCHASE_IN", res.Movement.Kind)
	}
	if res.Movement.Note == "" {
		t.Error("note must be generated")
	}
}

func TestRecordEntryRejectsInput(t *testing.T) {
	f := newFixture(t)
	milk := f.ingredient(t, "Молоко", "1", "0")

	tests := []struct {
		name string
		req  *models.EntryRequest
		kind apperr.Kind
	}{
		{"excess precision", &models.EntryRequest{IngredientID: milk.ID, Quantity: num("0.0005")}, apperr.KindInvalidQuantity},
		{"above stock max", &models.EntryRequest{IngredientID: milk.ID, Quantity: num("10000000")}, apperr.KindInvalidQuantity},
		{"zero", &models.EntryRequest{IngredientID: milk.ID, Quantity: num("0")}, apperr.KindValidation},
		{"missing quantity", &models.EntryRequest{IngredientID: milk.ID}, apperr.KindValidation},
		{"out kind", &models.EntryRequest{IngredientID: milk.ID, Quantity: num("1"), MovementKind: "SALE_OUT"}, apperr.KindValidation},
		{"missing ingredient id", &models.EntryRequest{Quantity: num("1")}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.stock.RecordEntry(context.Background(), tt.req)
			assertKind(t, err, tt.kind)
		})
	}
	assertQty(t, f.stockOf(t, milk.ID), "1.000")
}

func TestRecordEntryUnknownIngredient(t *testing.T) {
	f := newFixture(t)
	_, err := f.stock.RecordEntry(context.Background(), &models.EntryRequest{IngredientID: 42, Quantity: num("1")})
	appErr := assertKind(t, err, apperr.KindNotFound)
	if appErr.Code != apperr.CodeIngredientNotFound {
		t.Errorf("code = %s", appErr.Code)
	}
}

func TestRecordEntryStockCeiling(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Мука", "9999999.000", "0")

	_, err := f.stock.RecordEntry(context.Background(), &models.EntryRequest{IngredientID: ing.ID, Quantity: num("1")})
	assertKind(t, err, apperr.KindInvalidQuantity)
	assertQty(t, f.stockOf(t, ing.ID), "9999999.000")
}

func TestAdjustRejectsSignKindMismatch(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Молоко", "5", "0")

	err := f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := f.stock.Adjust(tx, AdjustRequest{
			IngredientID: ing.ID,
			Delta:        quantity.MustParse("1"),
			Kind:         models.MovementSaleOut,
		})
		return err
	})
	assertKind(t, err, apperr.KindValidation)

	err = f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := f.stock.Adjust(tx, AdjustRequest{IngredientID: ing.ID, Delta: quantity.MustParse("1")})
		return err
	})
	assertKind(t, err, apperr.KindValidation)
}

func TestAdjustInsufficientStockLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Молоко", "0.150", "0")

	err := f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := f.stock.Adjust(tx, AdjustRequest{
			IngredientID: ing.ID,
			Delta:        quantity.MustParse("-0.200"),
			Kind:         models.MovementAdjustmentOut,
		})
		return err
	})
	appErr := assertKind(t, err, apperr.KindInsufficientStock)
	if appErr.Shortage == nil || appErr.Shortage.IngredientID != ing.ID {
		t.Fatalf("shortage = %+v", appErr.Shortage)
	}
	assertQty(t, appErr.Shortage.Required, "0.200")
	assertQty(t, appErr.Shortage.Available, "0.150")
	assertQty(t, f.stockOf(t, ing.ID), "0.150")
	if n := len(f.recorder.Drain()); n != 0 {
		t.Errorf("rolled back adjustment published %d events", n)
	}
}

func TestAdjustToExactlyZero(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Сливки", "0.300", "0.100")

	err := f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		res, err := f.stock.Adjust(tx, AdjustRequest{
			IngredientID: ing.ID,
			Delta:        quantity.MustParse("-0.300"),
			Kind:         models.MovementAdjustmentOut,
		})
		if err != nil {
			return err
		}
		assertQty(t, res.Previous, "0.300")
		return nil
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	assertQty(t, f.stockOf(t, ing.ID), "0.000")

	published := f.recorder.Drain()
	if len(published) != 1 || !published[0].BelowMinimum {
		t.Fatalf("expected one below-minimum event, got %+v", published)
	}
}

func TestConcurrentAdjustmentsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Молоко", "10.000", "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
				_, err := f.stock.Adjust(tx, AdjustRequest{
					IngredientID: ing.ID,
					Delta:        quantity.MustParse("-6.000"),
					Kind:         models.MovementAdjustmentOut,
				})
				return err
			})
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch apperr.KindOf(err) {
		case "":
			succeeded++
		case apperr.KindInsufficientStock:
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || short != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want 1/1", succeeded, short)
	}
	assertQty(t, f.stockOf(t, ing.ID), "4.000")
}

func TestConcurrentEntriesAreNotLost(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "Сахар", "0", "0")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.stock.RecordEntry(context.Background(), &models.EntryRequest{
				IngredientID: ing.ID,
				Quantity:     num("0.125"),
			}); err != nil {
				t.Errorf("RecordEntry: %v", err)
			}
		}()
	}
	wg.Wait()
	assertQty(t, f.stockOf(t, ing.ID), "2.500")
}
