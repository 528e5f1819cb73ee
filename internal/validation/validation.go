// Package validation чистые проверки входных данных. Функции не обращаются к
// хранилищу и возвращают упорядоченный список ошибок; пустой список - данные валидны.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

var (
	validate    = validator.New()
	kindPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// Ingredient проверяет тело создания (все обязательные поля) или изменения (только присланные)
func Ingredient(req *models.IngredientRequest, mode Mode) []string {
	var errs []string
	if req == nil {
		return []string{"Тело запроса пустое."}
	}
	if mode == ModeUpdate && req.Name == nil && req.Unit == nil && req.CurrentStock == nil &&
		req.MinimumStock == nil && req.Description == nil {
		return []string{"Нет данных для обновления."}
	}

	required := mode == ModeCreate
	errs = checkText(errs, "name", req.Name, 100, required)
	errs = checkText(errs, "unit", req.Unit, 50, required)
	errs = checkDecimal(errs, "current_stock", req.CurrentStock, quantity.StockBounds, false)
	errs = checkDecimal(errs, "minimum_stock", req.MinimumStock, quantity.StockBounds, false)
	errs = checkOptionalText(errs, "description", req.Description, 255)
	return errs
}

// Product проверяет продукт и, если он прислан, рецепт
func Product(req *models.ProductRequest, mode Mode) []string {
	var errs []string
	if req == nil {
		return []string{"Тело запроса пустое."}
	}
	if mode == ModeUpdate && req.Name == nil && req.SalePrice == nil && req.Category == nil &&
		req.Description == nil && req.Ingredients == nil {
		return []string{"Нет данных для обновления."}
	}

	required := mode == ModeCreate
	errs = checkText(errs, "name", req.Name, 100, required)
	errs = checkDecimal(errs, "sale_price", req.SalePrice, quantity.PriceBounds, required)
	errs = checkOptionalText(errs, "category", req.Category, 100)
	errs = checkOptionalText(errs, "description", req.Description, 255)
	if req.Ingredients != nil {
		errs = append(errs, RecipeLines(*req.Ingredients)...)
	}
	return errs
}

// RecipeLines проверяет строки рецепта; ингредиент не может повторяться
func RecipeLines(lines []models.RecipeLineRequest) []string {
	var errs []string
	seen := make(map[uint]bool, len(lines))
	for i, line := range lines {
		prefix := fmt.Sprintf("ingredients[%d].", i)
		if line.IngredientID == 0 {
			errs = append(errs, fmt.Sprintf("Поле '%singredient_id' обязательно и должно быть положительным целым.", prefix))
		} else if seen[line.IngredientID] {
			errs = append(errs, fmt.Sprintf("Ингредиент %d указан в рецепте более одного раза.", line.IngredientID))
		}
		seen[line.IngredientID] = true
		errs = checkDecimal(errs, prefix+"quantity", line.Quantity, quantity.RecipeBounds, true)
		errs = checkText(errs, prefix+"unit", line.Unit, 50, true)
	}
	return errs
}

// Entry проверяет поступление на склад
func Entry(req *models.EntryRequest) []string {
	var errs []string
	if req == nil {
		return []string{"Тело запроса пустое."}
	}
	if req.IngredientID == 0 {
		errs = append(errs, "Поле 'ingredient_id' обязательно и должно быть положительным целым.")
	}
	before := len(errs)
	errs = checkDecimal(errs, "quantity", req.Quantity, quantity.StockBounds, true)
	if len(errs) == before {
		if q, err := quantity.Parse(req.Quantity.String()); err == nil && q.IsZero() {
			errs = append(errs, "Поле 'quantity' должно быть больше нуля.")
		}
	}
	if req.MovementKind != "" {
		kind := models.NormalizeMovementKind(req.MovementKind)
		switch {
		case validate.Var(string(kind), "max=50") != nil:
			errs = append(errs, "Поле 'movement_kind' не может быть длиннее 50 символов.")
		case !kindPattern.MatchString(string(kind)):
			errs = append(errs, "Поле 'movement_kind' может содержать только латинские буквы, цифры и '_'.")
		case kind.Direction() < 0:
			errs = append(errs, "Вид движения для поступления не может быть расходным (*_OUT).")
		}
	}
	return errs
}

// Sale проверяет продажу
func Sale(req *models.SaleRequest) []string {
	var errs []string
	if req == nil {
		return []string{"Тело запроса пустое."}
	}
	if req.ProductID == 0 {
		errs = append(errs, "Поле 'product_id' обязательно и должно быть положительным целым.")
	}
	if req.UnitsSold <= 0 {
		errs = append(errs, "Поле 'units_sold' должно быть положительным целым.")
	}
	return errs
}

func checkText(errs []string, field string, value *string, max int, required bool) []string {
	if value == nil {
		if required {
			errs = append(errs, fmt.Sprintf("Поле '%s' обязательно.", field))
		}
		return errs
	}
	// длина считается по значению после TrimSpace, в таком виде оно сохраняется
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return append(errs, fmt.Sprintf("Поле '%s' не может быть пустым.", field))
	}
	if validate.Var(trimmed, fmt.Sprintf("max=%d", max)) != nil {
		errs = append(errs, fmt.Sprintf("Поле '%s' не может быть длиннее %d символов.", field, max))
	}
	return errs
}

func checkOptionalText(errs []string, field string, value *string, max int) []string {
	if value == nil || *value == "" {
		return errs
	}
	if validate.Var(strings.TrimSpace(*value), fmt.Sprintf("max=%d", max)) != nil {
		errs = append(errs, fmt.Sprintf("Поле '%s' не может быть длиннее %d символов.", field, max))
	}
	return errs
}

func checkDecimal(errs []string, field string, value *json.Number, b quantity.Bounds, required bool) []string {
	if value == nil {
		if required {
			errs = append(errs, fmt.Sprintf("Поле '%s' обязательно.", field))
		}
		return errs
	}
	if _, err := quantity.ParseWithin(value.String(), b); err != nil {
		errs = append(errs, fmt.Sprintf("Поле '%s' должно быть неотрицательным числом не более %s с не более чем %d знаками после запятой.",
			field, b.Max.StringFixed(b.Places), b.Places))
	}
	return errs
}
