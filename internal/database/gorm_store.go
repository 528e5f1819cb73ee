package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

// GormStore реализация ledger.Store поверх PostgreSQL
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGormStore(db *gorm.DB, lockTimeout time.Duration) *GormStore {
	return &GormStore{db: db, lockTimeout: lockTimeout}
}

// WithinTx открывает транзакцию; gorm откатывает ее при ошибке или панике
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	var hooks []func()
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if s.lockTimeout > 0 {
			// SET LOCAL не принимает параметры
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := db.Exec(stmt).Error; err != nil {
				return err
			}
		}
		tx := &gormTx{db: db, ctx: ctx}
		if err := fn(tx); err != nil {
			return err
		}
		hooks = tx.hooks
		return nil
	})
	if err != nil {
		return classifyError(err)
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

type gormTx struct {
	db    *gorm.DB
	ctx   context.Context
	hooks []func()
}

func (t *gormTx) Context() context.Context { return t.ctx }

func (t *gormTx) AfterCommit(fn func()) { t.hooks = append(t.hooks, fn) }

func (t *gormTx) LockIngredient(id uint) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ing, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.IngredientNotFound(id)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &ing, nil
}

func (t *gormTx) GetIngredient(id uint) (*models.Ingredient, error) {
	return findIngredient(t.db, id)
}

func (t *gormTx) SetIngredientStock(id uint, stock quantity.Quantity) error {
	res := t.db.Model(&models.Ingredient{}).Where("id = ?", id).
		Updates(map[string]interface{}{"current_stock": stock, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.IngredientNotFound(id)
	}
	return nil
}

func (t *gormTx) AppendMovement(m *models.Movement) error {
	return classifyError(t.db.Omit(clause.Associations).Create(m).Error)
}

func (t *gormTx) CreateIngredient(ing *models.Ingredient) error {
	return classifyError(t.db.Create(ing).Error)
}

func (t *gormTx) UpdateIngredient(id uint, patch models.IngredientPatch) error {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Unit != nil {
		updates["unit"] = *patch.Unit
	}
	if patch.MinimumStock != nil {
		updates["minimum_stock"] = *patch.MinimumStock
	}
	if patch.Description != nil {
		updates["description"] = nullableString(*patch.Description)
	}
	if len(updates) == 0 {
		_, err := t.GetIngredient(id)
		return err
	}
	updates["updated_at"] = time.Now().UTC()

	res := t.db.Model(&models.Ingredient{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.IngredientNotFound(id)
	}
	return nil
}

func (t *gormTx) DeleteIngredient(id uint) error {
	if _, err := t.LockIngredient(id); err != nil {
		return err
	}

	var refs int64
	if err := t.db.Model(&models.RecipeLine{}).Where("ingredient_id = ?", id).Count(&refs).Error; err != nil {
		return classifyError(err)
	}
	if refs > 0 {
		return apperr.Conflict(fmt.Sprintf("Ингредиент %d используется в %d рецептах и не может быть удален", id, refs), nil)
	}
	if err := t.db.Model(&models.Movement{}).Where("ingredient_id = ?", id).Count(&refs).Error; err != nil {
		return classifyError(err)
	}
	if refs > 0 {
		return apperr.Conflict(fmt.Sprintf("По ингредиенту %d есть движения в журнале, удаление запрещено", id), nil)
	}

	return classifyError(t.db.Delete(&models.Ingredient{}, id).Error)
}

func (t *gormTx) IngredientExists(id uint) (bool, error) {
	var count int64
	if err := t.db.Model(&models.Ingredient{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, classifyError(err)
	}
	return count > 0, nil
}

func (t *gormTx) ProductsUsingIngredient(id uint) ([]uint, error) {
	var ids []uint
	err := t.db.Model(&models.RecipeLine{}).Where("ingredient_id = ?", id).
		Distinct().Order("product_id").Pluck("product_id", &ids).Error
	if err != nil {
		return nil, classifyError(err)
	}
	return ids, nil
}

func (t *gormTx) LockProduct(id uint, mode ledger.LockMode) (*models.Product, error) {
	strength := "SHARE"
	if mode == ledger.LockExclusive {
		strength = "UPDATE"
	}
	var p models.Product
	err := t.db.Clauses(clause.Locking{Strength: strength}).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ProductNotFound(id)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &p, nil
}

func (t *gormTx) CreateProduct(p *models.Product) error {
	return classifyError(t.db.Omit(clause.Associations).Create(p).Error)
}

func (t *gormTx) UpdateProduct(id uint, patch models.ProductPatch) error {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.SalePrice != nil {
		updates["sale_price"] = *patch.SalePrice
	}
	if patch.Category != nil {
		updates["category"] = nullableString(*patch.Category)
	}
	if patch.Description != nil {
		updates["description"] = nullableString(*patch.Description)
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	res := t.db.Model(&models.Product{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ProductNotFound(id)
	}
	return nil
}

func (t *gormTx) ReplaceRecipe(productID uint, lines []models.RecipeLine) error {
	if err := t.db.Where("product_id = ?", productID).Delete(&models.RecipeLine{}).Error; err != nil {
		return classifyError(err)
	}
	if len(lines) == 0 {
		return nil
	}
	for i := range lines {
		lines[i].ID = 0
		lines[i].ProductID = productID
	}
	return classifyError(t.db.Omit(clause.Associations).Create(&lines).Error)
}

func (t *gormTx) DeleteProduct(id uint) error {
	if _, err := t.LockProduct(id, ledger.LockExclusive); err != nil {
		return err
	}

	var sales int64
	if err := t.db.Model(&models.Sale{}).Where("product_id = ?", id).Count(&sales).Error; err != nil {
		return classifyError(err)
	}
	if sales > 0 {
		return apperr.Conflict(fmt.Sprintf("По продукту %d есть продажи (%d), удаление запрещено", id, sales), nil)
	}

	if err := t.db.Where("product_id = ?", id).Delete(&models.RecipeLine{}).Error; err != nil {
		return classifyError(err)
	}
	return classifyError(t.db.Delete(&models.Product{}, id).Error)
}

func (t *gormTx) RecipeFor(productID uint) ([]models.RecipeItem, error) {
	return recipeFor(t.db, productID)
}

func (t *gormTx) InsertSale(sale *models.Sale) error {
	return classifyError(t.db.Omit(clause.Associations).Create(sale).Error)
}

// --- Reader ---

func (s *GormStore) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	var list []models.Ingredient
	if err := s.db.WithContext(ctx).Order("name, id").Find(&list).Error; err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

func (s *GormStore) FindIngredient(ctx context.Context, id uint) (*models.Ingredient, error) {
	return findIngredient(s.db.WithContext(ctx), id)
}

func (s *GormStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var list []models.Product
	if err := s.db.WithContext(ctx).Order("name, id").Find(&list).Error; err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

func (s *GormStore) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ProductNotFound(id)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &p, nil
}

func (s *GormStore) Recipe(ctx context.Context, productID uint) ([]models.RecipeItem, error) {
	return recipeFor(s.db.WithContext(ctx), productID)
}

type movementRow struct {
	ID             uint
	IngredientID   uint
	SaleID         *uint
	Kind           string
	Magnitude      quantity.Quantity
	Note           string
	CreatedAt      time.Time
	IngredientName string
	ProductName    *string
}

func (s *GormStore) ListMovements(ctx context.Context, filter ledger.MovementFilter) ([]models.MovementView, error) {
	q := s.db.WithContext(ctx).Table("movements AS m").
		Select("m.id, m.ingredient_id, m.sale_id, m.kind, m.magnitude, m.note, m.created_at, i.name AS ingredient_name, p.name AS product_name").
		Joins("JOIN ingredients i ON i.id = m.ingredient_id").
		Joins("LEFT JOIN sales s ON s.id = m.sale_id").
		Joins("LEFT JOIN products p ON p.id = s.product_id")
	if filter.From != nil {
		q = q.Where("m.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("m.created_at < ?", *filter.To)
	}
	if filter.IngredientID != 0 {
		q = q.Where("m.ingredient_id = ?", filter.IngredientID)
	}
	if filter.SaleID != 0 {
		q = q.Where("m.sale_id = ?", filter.SaleID)
	}

	var rows []movementRow
	if err := q.Order("m.created_at DESC, m.id DESC").Scan(&rows).Error; err != nil {
		return nil, classifyError(err)
	}

	views := make([]models.MovementView, 0, len(rows))
	for _, r := range rows {
		views = append(views, models.MovementView{
			Movement: models.Movement{
				ID:           r.ID,
				IngredientID: r.IngredientID,
				SaleID:       r.SaleID,
				Kind:         models.MovementKind(r.Kind),
				Magnitude:    r.Magnitude,
				Note:         r.Note,
				CreatedAt:    r.CreatedAt,
			},
			IngredientName: r.IngredientName,
			ProductName:    r.ProductName,
		})
	}
	return views, nil
}

func (s *GormStore) ListSales(ctx context.Context, filter ledger.SaleFilter) ([]models.Sale, error) {
	q := s.db.WithContext(ctx).Model(&models.Sale{})
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}
	if filter.ProductID != 0 {
		q = q.Where("product_id = ?", filter.ProductID)
	}

	var sales []models.Sale
	if err := q.Order("created_at, id").Find(&sales).Error; err != nil {
		return nil, classifyError(err)
	}
	return sales, nil
}

func findIngredient(db *gorm.DB, id uint) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := db.First(&ing, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.IngredientNotFound(id)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &ing, nil
}

func recipeFor(db *gorm.DB, productID uint) ([]models.RecipeItem, error) {
	items := []models.RecipeItem{}
	err := db.Table("recipe_lines AS rl").
		Select("rl.ingredient_id, i.name AS ingredient_name, rl.quantity_per_unit, rl.unit").
		Joins("JOIN ingredients i ON i.id = rl.ingredient_id").
		Where("rl.product_id = ?", productID).
		Order("i.name, i.id").
		Scan(&items).Error
	if err != nil {
		return nil, classifyError(err)
	}
	return items, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
