package models

import (
	"encoding/json"

	"stockledger/server/internal/quantity"
)

// Десятичные поля приходят как json.Number (число или строка с числом) и
// разбираются в quantity на этапе валидации, чтобы собрать все ошибки сразу.

// IngredientRequest тело создания/изменения ингредиента
type IngredientRequest struct {
	Name         *string      `json:"name" validate:"omitempty,max=100"`
	Unit         *string      `json:"unit" validate:"omitempty,max=50"`
	CurrentStock *json.Number `json:"current_stock"`
	MinimumStock *json.Number `json:"minimum_stock"`
	Description  *string      `json:"description" validate:"omitempty,max=255"`
}

// RecipeLineRequest строка рецепта в запросе продукта
type RecipeLineRequest struct {
	IngredientID uint         `json:"ingredient_id"`
	Quantity     *json.Number `json:"quantity"`
	Unit         *string      `json:"unit" validate:"omitempty,max=50"`
}

// ProductRequest тело создания/изменения продукта. Ingredients == nil при
// обновлении означает "рецепт не меняется", пустой список - "рецепт очищается"
type ProductRequest struct {
	Name        *string              `json:"name" validate:"omitempty,max=100"`
	SalePrice   *json.Number         `json:"sale_price"`
	Category    *string              `json:"category" validate:"omitempty,max=100"`
	Description *string              `json:"description" validate:"omitempty,max=255"`
	Ingredients *[]RecipeLineRequest `json:"ingredients"`
}

// EntryRequest поступление на склад (POST /inventory/entries)
type EntryRequest struct {
	IngredientID uint         `json:"ingredient_id"`
	Quantity     *json.Number `json:"quantity"`
	MovementKind string       `json:"movement_kind" validate:"max=50"`
	Note         string       `json:"note"`
}

// SaleRequest продажа (POST /inventory/sale-consumption)
type SaleRequest struct {
	ProductID uint   `json:"product_id"`
	UnitsSold int    `json:"units_sold"`
	Note      string `json:"note"`
}

// IngredientPatch проверенные изменения ингредиента (nil - без изменений).
// Остаток сюда не входит: он меняется только через движок корректировок
type IngredientPatch struct {
	Name         *string
	Unit         *string
	MinimumStock *quantity.Quantity
	Description  *string
}

// ProductPatch проверенные изменения продукта
type ProductPatch struct {
	Name        *string
	SalePrice   *quantity.Quantity
	Category    *string
	Description *string
}
