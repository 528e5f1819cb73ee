package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/models"
)

func TestImportEntriesAppliesAllRows(t *testing.T) {
	f := newFixture(t)
	sugar := f.ingredient(t, "Сахар", "1", "0")
	milk := f.ingredient(t, "Молоко", "2", "0")

	result, err := f.stock.ImportEntries(context.Background(), []models.EntryRequest{
		{IngredientID: sugar.ID, Quantity: num("0.5")},
		{IngredientID: milk.ID, Quantity: num("10"), Note: "поставщик А"},
		{IngredientID: sugar.ID, Quantity: num("0.25"), MovementKind: "adjustment_in"},
	})
	if err != nil {
		t.Fatalf("ImportEntries: %v", err)
	}

	assertQty(t, f.stockOf(t, sugar.ID), "1.750")
	assertQty(t, f.stockOf(t, milk.ID), "12.000")

	if len(result.Movements) != 3 || len(result.Ingredients) != 2 {
		t.Fatalf("result = %d movements, %d ingredients", len(result.Movements), len(result.Ingredients))
	}
	// ответ в порядке строк накладной
	if result.Movements[0].IngredientID != sugar.ID || result.Movements[1].IngredientID != milk.ID {
		t.Fatalf("movements out of row order: %+v", result.Movements)
	}
	if result.Movements[2].Kind != models.MovementAdjustmentIn || result.Movements[0].Kind != models.MovementPurchaseIn {
		t.Fatalf("kinds = %s, %s", result.Movements[0].Kind, result.Movements[2].Kind)
	}
	if result.Movements[1].Note != "поставщик А" || result.Movements[0].Note != "Накладная, строка 1" {
		t.Fatalf("notes = %q, %q", result.Movements[0].Note, result.Movements[1].Note)
	}
	if got := len(f.recorder.Drain()); got != 3 {
		t.Fatalf("events = %d, want 3", got)
	}
}

func TestImportEntriesAllOrNothing(t *testing.T) {
	f := newFixture(t)
	sugar := f.ingredient(t, "Сахар", "1", "0")

	_, err := f.stock.ImportEntries(context.Background(), []models.EntryRequest{
		{IngredientID: sugar.ID, Quantity: num("5")},
		{IngredientID: 999, Quantity: num("1")},
	})
	assertKind(t, err, apperr.KindNotFound)
	assertQty(t, f.stockOf(t, sugar.ID), "1")
	if got := len(f.recorder.Drain()); got != 0 {
		t.Fatalf("events after rollback = %d", got)
	}

	// верхняя граница остатка на второй строке того же ингредиента
	_, err = f.stock.ImportEntries(context.Background(), []models.EntryRequest{
		{IngredientID: sugar.ID, Quantity: num("5000000")},
		{IngredientID: sugar.ID, Quantity: num("5000000")},
	})
	assertKind(t, err, apperr.KindInvalidQuantity)
	assertQty(t, f.stockOf(t, sugar.ID), "1")
}

func TestImportEntriesValidation(t *testing.T) {
	f := newFixture(t)
	sugar := f.ingredient(t, "Сахар", "1", "0")

	_, err := f.stock.ImportEntries(context.Background(), nil)
	assertKind(t, err, apperr.KindValidation)

	appErr := assertKind(t, func() error {
		_, err := f.stock.ImportEntries(context.Background(), []models.EntryRequest{
			{IngredientID: sugar.ID, Quantity: num("1")},
			{IngredientID: 0, Quantity: num("1")},
			{IngredientID: sugar.ID, Quantity: num("1"), MovementKind: "SALE_OUT"},
		})
		return err
	}(), apperr.KindValidation)
	if len(appErr.Details) != 2 || !strings.HasPrefix(appErr.Details[0], "Строка 2:") || !strings.HasPrefix(appErr.Details[1], "Строка 3:") {
		t.Fatalf("details = %v", appErr.Details)
	}

	_, err = f.stock.ImportEntries(context.Background(), []models.EntryRequest{
		{IngredientID: sugar.ID, Quantity: num("0.0005")},
	})
	assertKind(t, err, apperr.KindInvalidQuantity)
	assertQty(t, f.stockOf(t, sugar.ID), "1")
}

func TestParseEntrySheet(t *testing.T) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	rows := [][]interface{}{
		{"ingredient_id", "quantity", "movement_kind", "note"},
		{1, "2.500", "", "поставка"},
		{},
		{2, 0.75, "ADJUSTMENT_IN"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := x.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reqs, err := ParseEntrySheet(&buf)
	if err != nil {
		t.Fatalf("ParseEntrySheet: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("rows = %d, want 2", len(reqs))
	}
	if reqs[0].IngredientID != 1 || reqs[0].Quantity.String() != "2.500" || reqs[0].Note != "поставка" {
		t.Fatalf("row 1 = %+v", reqs[0])
	}
	if reqs[1].IngredientID != 2 || reqs[1].Quantity.String() != "0.75" || reqs[1].MovementKind != "ADJUSTMENT_IN" {
		t.Fatalf("row 2 = %+v", reqs[1])
	}

	_, err = ParseEntrySheet(strings.NewReader("not a workbook"))
	assertKind(t, err, apperr.KindValidation)
}

func TestParseEntrySheetBadID(t *testing.T) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	_ = x.SetCellValue(sheet, "A1", "ingredient_id")
	_ = x.SetCellValue(sheet, "A2", "молоко")
	_ = x.SetCellValue(sheet, "B2", "1")
	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := ParseEntrySheet(&buf)
	appErr := assertKind(t, err, apperr.KindValidation)
	if len(appErr.Details) != 1 || !strings.Contains(appErr.Details[0], "Строка 2") {
		t.Fatalf("details = %v", appErr.Details)
	}
}
