package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/events"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
	"stockledger/server/internal/validation"
)

// StockService движок корректировки остатков. Любое изменение остатка
// ингредиента проходит через Adjust и оставляет запись в журнале движений.
type StockService struct {
	store     ledger.Store
	publisher events.Publisher
	log       *logrus.Logger
}

// NewStockService создает новый экземпляр StockService
func NewStockService(store ledger.Store, publisher events.Publisher, log *logrus.Logger) *StockService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &StockService{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// AdjustRequest Delta со знаком: расход отрицательный
type AdjustRequest struct {
	IngredientID uint
	Delta        quantity.Quantity
	Kind         models.MovementKind
	Note         string
	SaleID       *uint
}

type AdjustResult struct {
	Ingredient models.Ingredient // состояние после корректировки
	Previous   quantity.Quantity
	Movement   models.Movement
}

// Adjust блокирует строку ингредиента, проверяет и записывает новый остаток
// и добавляет движение. Коммит выполняет вызывающий (владелец транзакции).
func (s *StockService) Adjust(tx ledger.Tx, req AdjustRequest) (*AdjustResult, error) {
	if req.Kind == "" {
		return nil, apperr.Validation([]string{"Вид движения обязателен."})
	}
	if req.Delta.Sign() != 0 && req.Delta.Sign() != req.Kind.Direction() {
		return nil, apperr.Validation([]string{
			fmt.Sprintf("Знак изменения %s не соответствует виду движения %s.", req.Delta, req.Kind),
		})
	}

	ing, err := tx.LockIngredient(req.IngredientID)
	if err != nil {
		return nil, err
	}

	previous := ing.CurrentStock
	newStock := previous.Add(req.Delta)
	if newStock.IsNegative() {
		return nil, apperr.InsufficientStock(apperr.StockShortage{
			IngredientID:   ing.ID,
			IngredientName: ing.Name,
			Required:       req.Delta.Abs(),
			Available:      previous,
		})
	}
	if err := quantity.StockBounds.Check(newStock); err != nil {
		return nil, apperr.InvalidQuantity("current_stock", err)
	}

	if err := tx.SetIngredientStock(ing.ID, newStock); err != nil {
		return nil, err
	}

	movement := &models.Movement{
		IngredientID: ing.ID,
		SaleID:       req.SaleID,
		Kind:         req.Kind,
		Magnitude:    req.Delta.Abs(),
		Note:         req.Note,
	}
	if err := tx.AppendMovement(movement); err != nil {
		return nil, err
	}

	ing.CurrentStock = newStock
	fields := logrus.Fields{
		"ingredient_id":   ing.ID,
		"ingredient":      ing.Name,
		"kind":            req.Kind,
		"delta":           req.Delta.String(),
		"resulting_stock": newStock.String(),
	}
	if req.SaleID != nil {
		fields["sale_id"] = *req.SaleID
	}
	s.log.WithFields(fields).Info("📦 Остаток скорректирован")

	event := events.MovementEvent{
		MovementID:     movement.ID,
		IngredientID:   ing.ID,
		IngredientName: ing.Name,
		Kind:           req.Kind,
		Delta:          req.Delta,
		ResultingStock: newStock,
		MinimumStock:   ing.MinimumStock,
		BelowMinimum:   ing.BelowMinimum(),
		SaleID:         req.SaleID,
		Note:           req.Note,
		At:             movement.CreatedAt,
	}
	ctx := tx.Context()
	tx.AfterCommit(func() {
		if event.BelowMinimum {
			s.log.WithFields(fields).Warnf("⚠️ Остаток ниже минимального (%s)", event.MinimumStock)
		}
		s.publisher.PublishMovement(ctx, event)
	})

	return &AdjustResult{Ingredient: *ing, Previous: previous, Movement: *movement}, nil
}

// EntryResult ответ на поступление
type EntryResult struct {
	Message    string            `json:"message"`
	Ingredient models.Ingredient `json:"ingredient"`
	Movement   models.Movement   `json:"movement"`
}

// RecordEntry поступление на склад в собственной транзакции
// POST /inventory/entries
func (s *StockService) RecordEntry(ctx context.Context, req *models.EntryRequest) (*EntryResult, error) {
	if errs := validation.Entry(req); len(errs) > 0 {
		if req != nil && req.Quantity != nil {
			if _, err := quantity.ParseWithin(req.Quantity.String(), quantity.StockBounds); err != nil {
				return nil, apperr.InvalidQuantityDetails(errs)
			}
		}
		return nil, apperr.Validation(errs)
	}
	qty, err := quantity.ParseWithin(req.Quantity.String(), quantity.StockBounds)
	if err != nil {
		return nil, apperr.InvalidQuantity("quantity", err)
	}

	kind := models.MovementPurchaseIn
	if req.MovementKind != "" {
		kind = models.NormalizeMovementKind(req.MovementKind)
	}
	note := req.Note
	if note == "" {
		note = fmt.Sprintf("Поступление %s ед.", qty)
	}

	var result *EntryResult
	err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		adjusted, err := s.Adjust(tx, AdjustRequest{
			IngredientID: req.IngredientID,
			Delta:        qty,
			Kind:         kind,
			Note:         note,
		})
		if err != nil {
			return err
		}
		// читаем в той же транзакции
		ing, err := tx.GetIngredient(req.IngredientID)
		if err != nil {
			return err
		}
		result = &EntryResult{
			Message:    fmt.Sprintf("Поступление %s для ингредиента '%s' зарегистрировано", qty, ing.Name),
			Ingredient: *ing,
			Movement:   adjusted.Movement,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
