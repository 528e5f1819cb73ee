package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
	"stockledger/server/internal/validation"
)

// MaxImportRows ограничение строк одной накладной
const MaxImportRows = 500

// ImportResult итог пакетного поступления. Movements в порядке строк накладной
type ImportResult struct {
	Message     string              `json:"message"`
	Movements   []models.Movement   `json:"movements"`
	Ingredients []models.Ingredient `json:"ingredients"`
}

type importLine struct {
	row  int
	req  models.EntryRequest
	qty  quantity.Quantity
	kind models.MovementKind
	name string
}

// ImportEntries проводит все строки накладной в одной транзакции: либо
// поступают все, либо ни одна. Строки проверяются заранее, ошибки
// собираются с номерами строк.
func (s *StockService) ImportEntries(ctx context.Context, reqs []models.EntryRequest) (*ImportResult, error) {
	if len(reqs) == 0 {
		return nil, apperr.Validation([]string{"Накладная не содержит строк."})
	}
	if len(reqs) > MaxImportRows {
		return nil, apperr.Validation([]string{fmt.Sprintf("Накладная не может содержать больше %d строк.", MaxImportRows)})
	}

	lines := make([]importLine, 0, len(reqs))
	var errs []string
	badQuantity := false
	for i := range reqs {
		req := reqs[i]
		if rowErrs := validation.Entry(&req); len(rowErrs) > 0 {
			for _, e := range rowErrs {
				errs = append(errs, fmt.Sprintf("Строка %d: %s", i+1, e))
			}
			if req.Quantity != nil {
				if _, err := quantity.ParseWithin(req.Quantity.String(), quantity.StockBounds); err != nil {
					badQuantity = true
				}
			}
			continue
		}
		qty, _ := quantity.ParseWithin(req.Quantity.String(), quantity.StockBounds)
		kind := models.MovementPurchaseIn
		if req.MovementKind != "" {
			kind = models.NormalizeMovementKind(req.MovementKind)
		}
		lines = append(lines, importLine{row: i, req: req, qty: qty, kind: kind})
	}
	if len(errs) > 0 {
		if badQuantity {
			return nil, apperr.InvalidQuantityDetails(errs)
		}
		return nil, apperr.Validation(errs)
	}

	movements := make([]models.Movement, len(reqs))
	final := make(map[uint]models.Ingredient)
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		for i := range lines {
			ing, err := tx.GetIngredient(lines[i].req.IngredientID)
			if err != nil {
				return err
			}
			lines[i].name = ing.Name
		}
		// порядок блокировок как у продаж: имя, затем ID
		ordered := make([]importLine, len(lines))
		copy(ordered, lines)
		sort.SliceStable(ordered, func(a, b int) bool {
			if ordered[a].name != ordered[b].name {
				return ordered[a].name < ordered[b].name
			}
			return ordered[a].req.IngredientID < ordered[b].req.IngredientID
		})

		for _, line := range ordered {
			note := line.req.Note
			if note == "" {
				note = fmt.Sprintf("Накладная, строка %d", line.row+1)
			}
			adjusted, err := s.Adjust(tx, AdjustRequest{
				IngredientID: line.req.IngredientID,
				Delta:        line.qty,
				Kind:         line.kind,
				Note:         note,
			})
			if err != nil {
				return err
			}
			movements[line.row] = adjusted.Movement
			final[adjusted.Ingredient.ID] = adjusted.Ingredient
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ingredients := make([]models.Ingredient, 0, len(final))
	for _, ing := range final {
		ingredients = append(ingredients, ing)
	}
	sort.Slice(ingredients, func(a, b int) bool { return ingredients[a].ID < ingredients[b].ID })

	s.log.WithFields(logrus.Fields{
		"rows":        len(movements),
		"ingredients": len(ingredients),
	}).Info("✅ Накладная проведена")

	return &ImportResult{
		Message:     fmt.Sprintf("Накладная проведена: %d строк, %d ингредиентов", len(movements), len(ingredients)),
		Movements:   movements,
		Ingredients: ingredients,
	}, nil
}

// ParseEntrySheet читает накладную из XLSX (первый лист). Первая строка -
// заголовок, колонки: ingredient_id, quantity, movement_kind, note.
// Пустые строки пропускаются.
func ParseEntrySheet(r io.Reader) ([]models.EntryRequest, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation([]string{"Файл не является корректным XLSX документом."})
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, apperr.Validation([]string{"Не удалось прочитать первый лист файла."})
	}

	var reqs []models.EntryRequest
	var errs []string
	for i, row := range rows {
		if i == 0 || blankRow(row) {
			continue
		}
		cell := func(col int) string {
			if col < len(row) {
				return strings.TrimSpace(row[col])
			}
			return ""
		}

		req := models.EntryRequest{MovementKind: cell(2), Note: cell(3)}
		if raw := cell(0); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || id == 0 {
				errs = append(errs, fmt.Sprintf("Строка %d: некорректный ingredient_id '%s'.", i+1, raw))
				continue
			}
			req.IngredientID = uint(id)
		}
		if raw := cell(1); raw != "" {
			n := json.Number(raw)
			req.Quantity = &n
		}
		reqs = append(reqs, req)
	}
	if len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	return reqs, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
