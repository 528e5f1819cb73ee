package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

func seedIngredient(t *testing.T, store *MemoryStore, name, stock string) *models.Ingredient {
	t.Helper()
	ing := &models.Ingredient{
		Name:         name,
		Unit:         "kg",
		CurrentStock: quantity.MustParse(stock),
		InitialStock: quantity.MustParse(stock),
	}
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateIngredient(ing)
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return ing
}

func TestMemoryStoreRollbackDiscardsWrites(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ing := seedIngredient(t, store, "Сахар", "1.000")

	hookRan := false
	boom := errors.New("boom")
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		if _, err := tx.LockIngredient(ing.ID); err != nil {
			return err
		}
		if err := tx.SetIngredientStock(ing.ID, quantity.MustParse("0.500")); err != nil {
			return err
		}
		if err := tx.AppendMovement(&models.Movement{IngredientID: ing.ID, Kind: models.MovementSaleOut, Magnitude: quantity.MustParse("0.500")}); err != nil {
			return err
		}
		tx.AfterCommit(func() { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if hookRan {
		t.Error("after-commit hook ran on rollback")
	}

	got, _ := store.FindIngredient(context.Background(), ing.ID)
	if got.CurrentStock.String() != "1.000" {
		t.Errorf("stock = %s after rollback", got.CurrentStock)
	}
	if moves, _ := store.ListMovements(context.Background(), ledger.MovementFilter{}); len(moves) != 0 {
		t.Errorf("movements after rollback = %d", len(moves))
	}
}

func TestMemoryStoreRollbackOnPanic(t *testing.T) {
	store := NewMemoryStore(100 * time.Millisecond)
	ing := seedIngredient(t, store, "Мука", "2.000")

	func() {
		defer func() { _ = recover() }()
		_ = store.WithinTx(context.Background(), func(tx ledger.Tx) error {
			if _, err := tx.LockIngredient(ing.ID); err != nil {
				return err
			}
			panic("handler crashed")
		})
	}()

	// блокировка должна быть освобождена
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.LockIngredient(ing.ID)
		return err
	})
	if err != nil {
		t.Fatalf("lock after panic: %v", err)
	}
}

func TestMemoryStoreLockTimeout(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	ing := seedIngredient(t, store, "Молоко", "1.000")

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.WithinTx(context.Background(), func(tx ledger.Tx) error {
			if _, err := tx.LockIngredient(ing.ID); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.LockIngredient(ing.ID)
		return err
	})
	close(done)
	if apperr.KindOf(err) != apperr.KindLockTimeout {
		t.Fatalf("err = %v, want LockTimeout", err)
	}
}

func TestMemoryStoreSharedProductLocks(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	var productID uint
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		p := &models.Product{Name: "Латте", SalePrice: quantity.MustParse("3.50")}
		if err := tx.CreateProduct(p); err != nil {
			return err
		}
		productID = p.ID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = store.WithinTx(context.Background(), func(tx ledger.Tx) error {
			if _, err := tx.LockProduct(productID, ledger.LockShared); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	// вторая разделяемая блокировка не ждет
	if err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.LockProduct(productID, ledger.LockShared)
		return err
	}); err != nil {
		t.Fatalf("shared lock: %v", err)
	}

	// эксклюзивная ждет и падает по таймауту
	err = store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.LockProduct(productID, ledger.LockExclusive)
		return err
	})
	close(release)
	if apperr.KindOf(err) != apperr.KindLockTimeout {
		t.Fatalf("exclusive lock err = %v, want LockTimeout", err)
	}
}

func TestMemoryStoreUniqueNames(t *testing.T) {
	store := NewMemoryStore(time.Second)
	seedIngredient(t, store, "Соль", "0")

	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateIngredient(&models.Ingredient{Name: "Соль", Unit: "kg"})
	})
	if apperr.KindOf(err) != apperr.KindIntegrityConflict {
		t.Fatalf("err = %v, want IntegrityConflict", err)
	}
}

func TestMemoryStoreDeleteGuards(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ing := seedIngredient(t, store, "Кофе", "5.000")

	var productID uint
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		p := &models.Product{Name: "Эспрессо", SalePrice: quantity.MustParse("2.00")}
		if err := tx.CreateProduct(p); err != nil {
			return err
		}
		productID = p.ID
		return tx.ReplaceRecipe(p.ID, []models.RecipeLine{{IngredientID: ing.ID, QuantityPerUnit: quantity.MustParse("0.018"), Unit: "kg"}})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.WithinTx(context.Background(), func(tx ledger.Tx) error { return tx.DeleteIngredient(ing.ID) })
	if apperr.KindOf(err) != apperr.KindIntegrityConflict {
		t.Fatalf("delete used ingredient: err = %v", err)
	}

	err = store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertSale(&models.Sale{ProductID: productID, Units: 1, UnitPrice: quantity.MustParse("2.00"), TotalAmount: quantity.MustParse("2.00")})
	})
	if err != nil {
		t.Fatal(err)
	}
	err = store.WithinTx(context.Background(), func(tx ledger.Tx) error { return tx.DeleteProduct(productID) })
	if apperr.KindOf(err) != apperr.KindIntegrityConflict {
		t.Fatalf("delete sold product: err = %v", err)
	}
}

func TestMemoryStoreRecipeOrderedByName(t *testing.T) {
	store := NewMemoryStore(time.Second)
	sugar := seedIngredient(t, store, "sugar", "1")
	milk := seedIngredient(t, store, "milk", "1")

	var productID uint
	err := store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		p := &models.Product{Name: "Latte", SalePrice: quantity.MustParse("3.50")}
		if err := tx.CreateProduct(p); err != nil {
			return err
		}
		productID = p.ID
		return tx.ReplaceRecipe(p.ID, []models.RecipeLine{
			{IngredientID: sugar.ID, QuantityPerUnit: quantity.MustParse("0.010"), Unit: "kg"},
			{IngredientID: milk.ID, QuantityPerUnit: quantity.MustParse("0.200"), Unit: "l"},
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	items, err := store.Recipe(context.Background(), productID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].IngredientName != "milk" || items[1].IngredientName != "sugar" {
		t.Fatalf("recipe = %+v", items)
	}
}
