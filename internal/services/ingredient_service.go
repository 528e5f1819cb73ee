package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
	"stockledger/server/internal/validation"
)

// IngredientService справочник ингредиентов
type IngredientService struct {
	store   ledger.Store
	stock   *StockService
	recipes *RecipeService
	log     *logrus.Logger
}

// NewIngredientService создает новый экземпляр IngredientService
func NewIngredientService(store ledger.Store, stock *StockService, log *logrus.Logger) *IngredientService {
	return &IngredientService{store: store, stock: stock, log: log}
}

// SetRecipeService сбрасывать кеш карточек продуктов при переименовании
func (s *IngredientService) SetRecipeService(recipes *RecipeService) {
	s.recipes = recipes
}

func (s *IngredientService) List(ctx context.Context) ([]models.Ingredient, error) {
	return s.store.ListIngredients(ctx)
}

func (s *IngredientService) Get(ctx context.Context, id uint) (*models.Ingredient, error) {
	return s.store.FindIngredient(ctx, id)
}

// Create начальный остаток запоминается в initial_stock - от него ведется сверка журнала
func (s *IngredientService) Create(ctx context.Context, req *models.IngredientRequest) (*models.Ingredient, error) {
	if errs := validation.Ingredient(req, validation.ModeCreate); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	stock, err := optionalQuantity(req.CurrentStock, "current_stock")
	if err != nil {
		return nil, err
	}
	minimum, err := optionalQuantity(req.MinimumStock, "minimum_stock")
	if err != nil {
		return nil, err
	}

	ing := &models.Ingredient{
		Name:         strings.TrimSpace(*req.Name),
		Unit:         strings.TrimSpace(*req.Unit),
		CurrentStock: stock,
		InitialStock: stock,
		MinimumStock: minimum,
		Description:  trimmedOrNil(req.Description),
	}
	err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateIngredient(ing)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"ingredient_id": ing.ID, "name": ing.Name}).Info("✅ Ингредиент создан")
	return ing, nil
}

// Update частичное изменение. Новый current_stock не записывается напрямую:
// разница проводится через движок как ADJUSTMENT_IN / ADJUSTMENT_OUT
func (s *IngredientService) Update(ctx context.Context, id uint, req *models.IngredientRequest) (*models.Ingredient, error) {
	if errs := validation.Ingredient(req, validation.ModeUpdate); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}

	patch := models.IngredientPatch{
		Name:        trimmedPtr(req.Name),
		Unit:        trimmedPtr(req.Unit),
		Description: trimmedPtr(req.Description),
	}
	if req.MinimumStock != nil {
		minimum, err := optionalQuantity(req.MinimumStock, "minimum_stock")
		if err != nil {
			return nil, err
		}
		patch.MinimumStock = &minimum
	}
	var target *quantity.Quantity
	if req.CurrentStock != nil {
		stock, err := optionalQuantity(req.CurrentStock, "current_stock")
		if err != nil {
			return nil, err
		}
		target = &stock
	}

	var updated *models.Ingredient
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		// имя задает порядок блокировок в продажах: продажи с этим
		// ингредиентом завершаются до переименования
		var affected []uint
		if patch.Name != nil || patch.Unit != nil {
			var err error
			if affected, err = lockProductsUsing(tx, id); err != nil {
				return err
			}
		}

		current, err := tx.LockIngredient(id)
		if err != nil {
			return err
		}
		if err := tx.UpdateIngredient(id, patch); err != nil {
			return err
		}
		if len(affected) > 0 && s.recipes != nil {
			tx.AfterCommit(func() {
				for _, productID := range affected {
					s.recipes.invalidateProductCache(productID)
				}
			})
		}

		if target != nil {
			delta := target.Sub(current.CurrentStock)
			if !delta.IsZero() {
				kind := models.MovementAdjustmentIn
				if delta.IsNegative() {
					kind = models.MovementAdjustmentOut
				}
				if _, err := s.stock.Adjust(tx, AdjustRequest{
					IngredientID: id,
					Delta:        delta,
					Kind:         kind,
					Note:         "Корректировка остатка при редактировании ингредиента",
				}); err != nil {
					return err
				}
			}
		}

		updated, err = tx.GetIngredient(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("ingredient_id", id).Info("✅ Ингредиент обновлен")
	return updated, nil
}

// Delete запрещено для ингредиентов из рецептов и с движениями
func (s *IngredientService) Delete(ctx context.Context, id uint) error {
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.DeleteIngredient(id)
	})
	if err != nil {
		return err
	}
	s.log.WithField("ingredient_id", id).Info("🗑️ Ингредиент удален")
	return nil
}

func optionalQuantity(raw *json.Number, field string) (quantity.Quantity, error) {
	if raw == nil {
		return quantity.Zero, nil
	}
	q, err := quantity.ParseWithin(raw.String(), quantity.StockBounds)
	if err != nil {
		return quantity.Zero, apperr.InvalidQuantity(field, err)
	}
	return q, nil
}
