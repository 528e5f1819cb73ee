package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
)

func TestSellInsufficientMilk(t *testing.T) {
	f := newFixture(t)
	milk := f.ingredient(t, "Молоко", "0.150", "0")
	latte := f.product(t, "Latte", "3.50", line{milk.ID, "0.200"})

	_, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: latte.ID, UnitsSold: 1})
	appErr := assertKind(t, err, apperr.KindInsufficientStock)
	assertQty(t, appErr.Shortage.Required, "0.200")
	assertQty(t, appErr.Shortage.Available, "0.150")
	if appErr.Shortage.IngredientName != "Молоко" {
		t.Errorf("ingredient name = %q", appErr.Shortage.IngredientName)
	}

	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("sales = %d, want 0", len(sales))
	}
	assertQty(t, f.stockOf(t, milk.ID), "0.150")
}

func TestSellEmptyRecipe(t *testing.T) {
	f := newFixture(t)
	gift := f.product(t, "Подарочная карта", "10.00")

	res, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: gift.ID, UnitsSold: 3})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if len(res.Movements) != 0 {
		t.Errorf("movements = %d, want 0", len(res.Movements))
	}
	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{})
	if len(sales) != 1 || sales[0].ID != res.SaleID {
		t.Fatalf("sales = %+v", sales)
	}
	assertQty(t, sales[0].TotalAmount, "30.00")
	movements, _ := f.store.ListMovements(context.Background(), ledger.MovementFilter{})
	if len(movements) != 0 {
		t.Errorf("stored movements = %d, want 0", len(movements))
	}
}

func TestSellLatteTwoUnits(t *testing.T) {
	f := newFixture(t)
	sugar := f.ingredient(t, "Сахар", "1.000", "0")
	milk := f.ingredient(t, "Молоко", "5.000", "0")
	latte := f.product(t, "Latte", "3.50", line{milk.ID, "0.200"}, line{sugar.ID, "0.010"})

	res, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: latte.ID, UnitsSold: 2, Note: "столик 4"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if res.SaleID == 0 || res.Message == "" {
		t.Fatalf("result = %+v", res)
	}
	assertQty(t, res.Sale.UnitPrice, "3.50")
	assertQty(t, res.Sale.TotalAmount, "7.00")
	if res.Sale.Note != "столик 4" {
		t.Errorf("note = %q", res.Sale.Note)
	}

	assertQty(t, f.stockOf(t, milk.ID), "4.600")
	assertQty(t, f.stockOf(t, sugar.ID), "0.980")

	movements, _ := f.store.ListMovements(context.Background(), ledger.MovementFilter{SaleID: res.SaleID})
	if len(movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(movements))
	}
	for _, m := range movements {
		if m.Kind != models.MovementSaleOut {
			t.Errorf("kind = %s", m.Kind)
		}
		if m.ProductName == nil || *m.ProductName != "Latte" {
			t.Errorf("product name = %v", m.ProductName)
		}
	}
	// порядок списания совпадает с порядком рецепта
	if res.Movements[0].IngredientID != milk.ID || res.Movements[1].IngredientID != sugar.ID {
		t.Errorf("adjustment order = %d,%d", res.Movements[0].IngredientID, res.Movements[1].IngredientID)
	}
}

func TestSellIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	coffee := f.ingredient(t, "Кофе", "1.000", "0")
	milk := f.ingredient(t, "Молоко", "0.300", "0")
	sugar := f.ingredient(t, "Сахар", "1.000", "0")
	latte := f.product(t, "Latte", "3.50",
		line{coffee.ID, "0.018"}, line{milk.ID, "0.200"}, line{sugar.ID, "0.010"})

	_, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: latte.ID, UnitsSold: 2})
	appErr := assertKind(t, err, apperr.KindInsufficientStock)
	if appErr.Shortage.IngredientID != milk.ID {
		t.Errorf("short ingredient = %d, want milk", appErr.Shortage.IngredientID)
	}

	assertQty(t, f.stockOf(t, coffee.ID), "1.000")
	assertQty(t, f.stockOf(t, milk.ID), "0.300")
	assertQty(t, f.stockOf(t, sugar.ID), "1.000")
	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{})
	movements, _ := f.store.ListMovements(context.Background(), ledger.MovementFilter{})
	if len(sales) != 0 || len(movements) != 0 {
		t.Fatalf("sales=%d movements=%d after failed sale", len(sales), len(movements))
	}
	if n := len(f.recorder.Drain()); n != 0 {
		t.Errorf("failed sale published %d events", n)
	}
}

func TestSellUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: 7, UnitsSold: 1})
	appErr := assertKind(t, err, apperr.KindNotFound)
	if appErr.Code != apperr.CodeProductNotFound {
		t.Errorf("code = %s", appErr.Code)
	}
}

func TestSellValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.sales.Sell(context.Background(), &models.SaleRequest{})
	appErr := assertKind(t, err, apperr.KindValidation)
	if len(appErr.Details) != 2 {
		t.Errorf("details = %v, want both violations", appErr.Details)
	}
}

func TestSellCapturesPriceAtSaleTime(t *testing.T) {
	f := newFixture(t)
	tea := f.product(t, "Чай", "2.00")

	first, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: tea.ID, UnitsSold: 1})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, err := f.recipes.UpdateProduct(context.Background(), tea.ID, &models.ProductRequest{SalePrice: num("2.50")}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{ProductID: tea.ID})
	for _, s := range sales {
		if s.ID == first.SaleID {
			assertQty(t, s.UnitPrice, "2.00")
			return
		}
	}
	t.Fatal("first sale not found")
}

func TestConcurrentSalesSharingIngredients(t *testing.T) {
	f := newFixture(t)
	milk := f.ingredient(t, "Молоко", "2.000", "0")
	sugar := f.ingredient(t, "Сахар", "2.000", "0")
	latte := f.product(t, "Latte", "3.50", line{milk.ID, "0.200"}, line{sugar.ID, "0.010"})
	cocoa := f.product(t, "Какао", "3.00", line{sugar.ID, "0.020"}, line{milk.ID, "0.250"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		productID := latte.ID
		if i%2 == 1 {
			productID = cocoa.ID
		}
		wg.Add(1)
		go func(productID uint) {
			defer wg.Done()
			_, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: productID, UnitsSold: 1})
			switch apperr.KindOf(err) {
			case "":
				mu.Lock()
				succeeded++
				mu.Unlock()
			case apperr.KindInsufficientStock:
			default:
				t.Errorf("Sell: %v", err)
			}
		}(productID)
	}
	wg.Wait()

	if f.stockOf(t, milk.ID).IsNegative() || f.stockOf(t, sugar.ID).IsNegative() {
		t.Fatal("stock went negative")
	}
	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{})
	if len(sales) != succeeded {
		t.Fatalf("sales = %d, successes = %d", len(sales), succeeded)
	}
	assertLedgerBalanced(t, f)
}

// assertLedgerBalanced остаток = начальный + сумма движений для каждого ингредиента
func assertLedgerBalanced(t *testing.T, f *fixture) {
	t.Helper()
	report, err := f.reconcile.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.OK() {
		t.Fatalf("ledger unbalanced: %+v", report.Discrepancies)
	}
}

func TestSellTotalAboveColumnLimit(t *testing.T) {
	f := newFixture(t)
	gold := f.product(t, "Золотой слиток", "99999999.99")

	_, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: gold.ID, UnitsSold: 100000})
	appErr := assertKind(t, err, apperr.KindInvalidQuantity)
	if !strings.Contains(appErr.Message, "total_amount") {
		t.Errorf("message = %q", appErr.Message)
	}
	sales, _ := f.store.ListSales(context.Background(), ledger.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("sales = %d, want 0", len(sales))
	}

	// 99999999.99 x 10000 = 999999999900.00 еще помещается в NUMERIC(14,2)
	res, err := f.sales.Sell(context.Background(), &models.SaleRequest{ProductID: gold.ID, UnitsSold: 10000})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	assertQty(t, res.Sale.TotalAmount, "999999999900.00")
}
