package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/config"
	"stockledger/server/internal/database"
	"stockledger/server/internal/events"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

type fixture struct {
	store       *database.MemoryStore
	recorder    *events.Recorder
	stock       *StockService
	sales       *SaleService
	recipes     *RecipeService
	ingredients *IngredientService
	reports     *ReportService
	reconcile   *ReconcileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := config.NewDiscardLogger()
	store := database.NewMemoryStore(500 * time.Millisecond)
	recorder := events.NewRecorder(256)
	stock := NewStockService(store, recorder, log)
	recipes := NewRecipeService(store, log)
	ingredients := NewIngredientService(store, stock, log)
	ingredients.SetRecipeService(recipes)
	return &fixture{
		store:       store,
		recorder:    recorder,
		stock:       stock,
		sales:       NewSaleService(store, stock, log),
		recipes:     recipes,
		ingredients: ingredients,
		reports:     NewReportService(store, log),
		reconcile:   NewReconcileService(store, nil, log),
	}
}

func num(s string) *json.Number {
	n := json.Number(s)
	return &n
}

func str(s string) *string { return &s }

func (f *fixture) ingredient(t *testing.T, name, stock, minimum string) *models.Ingredient {
	t.Helper()
	ing, err := f.ingredients.Create(context.Background(), &models.IngredientRequest{
		Name:         str(name),
		Unit:         str("L"),
		CurrentStock: num(stock),
		MinimumStock: num(minimum),
	})
	if err != nil {
		t.Fatalf("create ingredient %s: %v", name, err)
	}
	return ing
}

type line struct {
	ingredientID uint
	quantity     string
}

func (f *fixture) product(t *testing.T, name, price string, lines ...line) *models.ProductView {
	t.Helper()
	reqLines := make([]models.RecipeLineRequest, 0, len(lines))
	for _, l := range lines {
		reqLines = append(reqLines, models.RecipeLineRequest{
			IngredientID: l.ingredientID,
			Quantity:     num(l.quantity),
			Unit:         str("L"),
		})
	}
	view, err := f.recipes.CreateProduct(context.Background(), &models.ProductRequest{
		Name:        str(name),
		SalePrice:   num(price),
		Ingredients: &reqLines,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return view
}

func (f *fixture) stockOf(t *testing.T, id uint) quantity.Quantity {
	t.Helper()
	ing, err := f.store.FindIngredient(context.Background(), id)
	if err != nil {
		t.Fatalf("find ingredient %d: %v", id, err)
	}
	return ing.CurrentStock
}

func assertKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T: %v", err, err)
	}
	if appErr.Kind != kind {
		t.Fatalf("kind = %s, want %s (%v)", appErr.Kind, kind, err)
	}
	return appErr
}

func assertQty(t *testing.T, got quantity.Quantity, want string) {
	t.Helper()
	if !got.Equal(quantity.MustParse(want)) {
		t.Fatalf("quantity = %s, want %s", got, want)
	}
}
