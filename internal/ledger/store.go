// Package ledger описывает контракт хранилища журнала остатков. Реализации:
// database.GormStore (PostgreSQL) и database.MemoryStore.
package ledger

import (
	"context"
	"time"

	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

// LockMode режим блокировки строки продукта
type LockMode int

const (
	// LockShared продажа: параллельные продажи не мешают друг другу
	LockShared LockMode = iota
	// LockExclusive изменение продукта и замена рецепта
	LockExclusive
)

// Store выдает транзакцию на время fn. Ошибка или паника в fn - откат,
// иначе коммит. Соединение освобождается на любом пути выхода.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx операции внутри одной транзакции. Ошибки уже классифицированы (apperr).
type Tx interface {
	Context() context.Context

	// LockIngredient SELECT ... FOR UPDATE; IngredientNotFound если строки нет
	LockIngredient(id uint) (*models.Ingredient, error)
	GetIngredient(id uint) (*models.Ingredient, error)
	// SetIngredientStock требует, чтобы строка была заблокирована этой транзакцией
	SetIngredientStock(id uint, stock quantity.Quantity) error
	AppendMovement(m *models.Movement) error
	CreateIngredient(ing *models.Ingredient) error
	UpdateIngredient(id uint, patch models.IngredientPatch) error
	// DeleteIngredient IntegrityConflict если ингредиент есть в рецептах или журнале
	DeleteIngredient(id uint) error
	IngredientExists(id uint) (bool, error)
	// ProductsUsingIngredient ID продуктов, в рецептах которых есть ингредиент (по возрастанию)
	ProductsUsingIngredient(id uint) ([]uint, error)

	// LockProduct ProductNotFound если строки нет
	LockProduct(id uint, mode LockMode) (*models.Product, error)
	CreateProduct(p *models.Product) error
	UpdateProduct(id uint, patch models.ProductPatch) error
	// ReplaceRecipe удаляет все строки рецепта и вставляет новые
	ReplaceRecipe(productID uint, lines []models.RecipeLine) error
	// DeleteProduct IntegrityConflict если по продукту есть продажи
	DeleteProduct(id uint) error
	// RecipeFor строки рецепта по имени ингредиента (затем по id)
	RecipeFor(productID uint) ([]models.RecipeItem, error)
	InsertSale(s *models.Sale) error

	// AfterCommit выполняется только после успешного коммита
	AfterCommit(fn func())
}

// Reader чтение вне транзакции (отчеты, справочники)
type Reader interface {
	ListIngredients(ctx context.Context) ([]models.Ingredient, error)
	FindIngredient(ctx context.Context, id uint) (*models.Ingredient, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	FindProduct(ctx context.Context, id uint) (*models.Product, error)
	Recipe(ctx context.Context, productID uint) ([]models.RecipeItem, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]models.MovementView, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]models.Sale, error)
}

// MovementFilter пустые поля не фильтруют. From включительно, To не включительно
type MovementFilter struct {
	From         *time.Time
	To           *time.Time
	IngredientID uint
	SaleID       uint
}

type SaleFilter struct {
	From      *time.Time
	To        *time.Time
	ProductID uint
}
