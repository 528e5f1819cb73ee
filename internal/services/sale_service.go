package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
	"stockledger/server/internal/validation"
)

// SaleService оформляет продажу: продажа и списание всех ингредиентов
// рецепта выполняются в одной транзакции
type SaleService struct {
	store ledger.Store
	stock *StockService
	log   *logrus.Logger
}

// NewSaleService создает новый экземпляр SaleService
func NewSaleService(store ledger.Store, stock *StockService, log *logrus.Logger) *SaleService {
	return &SaleService{store: store, stock: stock, log: log}
}

type SaleResult struct {
	Message   string            `json:"message"`
	SaleID    uint              `json:"sale_id"`
	Sale      models.Sale       `json:"-"`
	Movements []models.Movement `json:"-"`
}

// Sell регистрирует продажу units единиц продукта и списывает ингредиенты.
// Ингредиенты блокируются в порядке рецепта (по имени), поэтому параллельные
// продажи с общими ингредиентами не попадают во взаимную блокировку.
func (s *SaleService) Sell(ctx context.Context, req *models.SaleRequest) (*SaleResult, error) {
	if errs := validation.Sale(req); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	units := int64(req.UnitsSold)

	var result *SaleResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		// разделяемая блокировка: замена рецепта ждет завершения продажи
		product, err := tx.LockProduct(req.ProductID, ledger.LockShared)
		if err != nil {
			return err
		}

		total, err := product.SalePrice.MulInt(units)
		if err == nil {
			err = quantity.SaleTotalBounds.Check(total)
		}
		if err != nil {
			return apperr.InvalidQuantity("total_amount", err)
		}
		note := req.Note
		if note == "" {
			note = fmt.Sprintf("Продажа %d x %s", req.UnitsSold, product.Name)
		}
		sale := &models.Sale{
			ProductID:   product.ID,
			Units:       req.UnitsSold,
			UnitPrice:   product.SalePrice,
			TotalAmount: total,
			Note:        note,
		}
		if err := tx.InsertSale(sale); err != nil {
			return err
		}
		saleID := sale.ID

		recipe, err := tx.RecipeFor(product.ID)
		if err != nil {
			return err
		}
		if len(recipe) == 0 {
			s.log.WithFields(logrus.Fields{
				"sale_id":    saleID,
				"product_id": product.ID,
				"product":    product.Name,
				"units":      req.UnitsSold,
			}).Warn("⚠️ Продажа без рецепта: продукт не содержит ингредиентов, остатки не списаны")
		}

		movements := make([]models.Movement, 0, len(recipe))
		for _, item := range recipe {
			required, err := item.QuantityPerUnit.MulInt(units)
			if err != nil {
				return apperr.InvalidQuantity("quantity_per_unit", err)
			}
			adjusted, err := s.stock.Adjust(tx, AdjustRequest{
				IngredientID: item.IngredientID,
				Delta:        required.Neg(),
				Kind:         models.MovementSaleOut,
				SaleID:       &saleID,
				Note:         fmt.Sprintf("Списание по продаже #%d (%d x '%s')", saleID, req.UnitsSold, product.Name),
			})
			if err != nil {
				return err
			}
			movements = append(movements, adjusted.Movement)
		}

		result = &SaleResult{
			Message:   fmt.Sprintf("%d x '%s' продано (продажа #%d). Остатки обновлены.", req.UnitsSold, product.Name, saleID),
			SaleID:    saleID,
			Sale:      *sale,
			Movements: movements,
		}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"product_id": req.ProductID,
			"units":      req.UnitsSold,
			"kind":       apperr.KindOf(err),
		}).Warnf("❌ Продажа отклонена: %v", err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"sale_id":   result.SaleID,
		"movements": len(result.Movements),
		"total":     result.Sale.TotalAmount.StringFixed(2),
	}).Info("✅ Продажа зарегистрирована")
	return result, nil
}
