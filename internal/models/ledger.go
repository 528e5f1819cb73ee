package models

import (
	"time"

	"stockledger/server/internal/quantity"
)

// Ingredient сырье на складе. CurrentStock меняется только через движок корректировок
type Ingredient struct {
	ID           uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string            `json:"name" gorm:"type:varchar(100);not null;uniqueIndex"`
	Unit         string            `json:"unit" gorm:"type:varchar(50);not null"`
	CurrentStock quantity.Quantity `json:"current_stock" gorm:"type:numeric(10,3);not null;default:0"`
	MinimumStock quantity.Quantity `json:"minimum_stock" gorm:"type:numeric(10,3);not null;default:0"`
	InitialStock quantity.Quantity `json:"initial_stock" gorm:"type:numeric(10,3);not null;default:0"` // Остаток на момент создания (база для сверки)
	Description  *string           `json:"description" gorm:"type:varchar(255)"`
	CreatedAt    time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Ingredient) TableName() string {
	return "ingredients"
}

// BelowMinimum остаток ниже минимального
func (i Ingredient) BelowMinimum() bool {
	return i.CurrentStock.LessThan(i.MinimumStock)
}

// Movement запись журнала движения остатков. Только добавляется
type Movement struct {
	ID           uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	IngredientID uint              `json:"ingredient_id" gorm:"not null;index"`
	SaleID       *uint             `json:"sale_id" gorm:"index"`
	Kind         MovementKind      `json:"kind" gorm:"type:varchar(50);not null"`
	Magnitude    quantity.Quantity `json:"magnitude" gorm:"type:numeric(10,3);not null"`
	Note         string            `json:"note" gorm:"type:text"`
	CreatedAt    time.Time         `json:"created_at" gorm:"autoCreateTime;not null;index"`

	Ingredient *Ingredient `json:"-" gorm:"foreignKey:IngredientID;constraint:OnDelete:RESTRICT"`
	Sale       *Sale       `json:"-" gorm:"foreignKey:SaleID;constraint:OnDelete:RESTRICT"`
}

// TableName указывает имя таблицы
func (Movement) TableName() string {
	return "movements"
}

// Signed величина со знаком по направлению вида движения
func (m Movement) Signed() quantity.Quantity {
	if m.Kind.Direction() < 0 {
		return m.Magnitude.Neg()
	}
	return m.Magnitude
}

// Product позиция продажи с рецептом
type Product struct {
	ID          uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string            `json:"name" gorm:"type:varchar(100);not null;uniqueIndex"`
	SalePrice   quantity.Quantity `json:"sale_price" gorm:"type:numeric(10,2);not null;default:0"`
	Category    *string           `json:"category" gorm:"type:varchar(100)"`
	Description *string           `json:"description" gorm:"type:varchar(255)"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"autoUpdateTime"`

	// Relations
	RecipeLines []RecipeLine `json:"-" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}

// TableName указывает имя таблицы
func (Product) TableName() string {
	return "products"
}

// RecipeLine строка рецепта: сколько ингредиента уходит на единицу продукта
type RecipeLine struct {
	ID              uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID       uint              `json:"product_id" gorm:"not null;uniqueIndex:idx_recipe_product_ingredient"`
	IngredientID    uint              `json:"ingredient_id" gorm:"not null;uniqueIndex:idx_recipe_product_ingredient;index"`
	QuantityPerUnit quantity.Quantity `json:"quantity_per_unit" gorm:"type:numeric(8,3);not null"`
	Unit            string            `json:"unit" gorm:"type:varchar(50);not null"`

	Ingredient *Ingredient `json:"-" gorm:"foreignKey:IngredientID;constraint:OnDelete:RESTRICT"`
}

// TableName указывает имя таблицы
func (RecipeLine) TableName() string {
	return "recipe_lines"
}

// Sale факт продажи. Цена фиксируется на момент продажи
type Sale struct {
	ID          uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID   uint              `json:"product_id" gorm:"not null;index"`
	Units       int               `json:"units" gorm:"not null"`
	UnitPrice   quantity.Quantity `json:"unit_price" gorm:"type:numeric(10,2);not null"`
	TotalAmount quantity.Quantity `json:"total_amount" gorm:"type:numeric(14,2);not null"`
	Note        string            `json:"note" gorm:"type:text"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime;not null;index"`

	Product *Product `json:"-" gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
}

// TableName указывает имя таблицы
func (Sale) TableName() string {
	return "sales"
}

// RecipeItem строка рецепта с именем ингредиента (результат резолвера)
type RecipeItem struct {
	IngredientID    uint              `json:"ingredient_id"`
	IngredientName  string            `json:"ingredient_name"`
	QuantityPerUnit quantity.Quantity `json:"quantity_per_unit"`
	Unit            string            `json:"unit"`
}

// ProductView продукт вместе с рецептом для API
type ProductView struct {
	Product
	Recipe []RecipeItem `json:"recipe"`
}

// MovementView движение с именами для истории
type MovementView struct {
	Movement
	IngredientName string  `json:"ingredient_name"`
	ProductName    *string `json:"product_name,omitempty"`
}
