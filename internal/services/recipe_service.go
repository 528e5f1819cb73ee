package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
	"stockledger/server/internal/utils"
	"stockledger/server/internal/validation"
)

const (
	productCacheTTL       = 10 * time.Minute
	productsUpdateChannel = "products:update"
)

// productCache хранилище карточек продуктов (utils.RedisClient)
type productCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Incr(ctx context.Context, key string) (int64, error)
	GetInt64(ctx context.Context, key string) (int64, error)
}

// cachedProduct карточка с версией на момент чтения из БД. Каждый сброс кеша
// увеличивает версию, поэтому запись, прочитанная до сброса, не отдается
type cachedProduct struct {
	Version int64              `json:"version"`
	View    models.ProductView `json:"view"`
}

// RecipeService продукты и их рецепты. RecipeFor - резолвер рецепта для продаж
type RecipeService struct {
	store ledger.Store
	cache productCache
	log   *logrus.Logger
}

// NewRecipeService создает новый экземпляр RecipeService
func NewRecipeService(store ledger.Store, log *logrus.Logger) *RecipeService {
	return &RecipeService{store: store, log: log}
}

// SetRedisUtil включает кеш карточек продуктов
func (s *RecipeService) SetRedisUtil(redisUtil *utils.RedisClient) {
	if redisUtil != nil {
		s.cache = redisUtil
	}
}

// RecipeFor строки рецепта по имени ингредиента. Пустой список - не ошибка:
// существование продукта проверяется отдельно
func (s *RecipeService) RecipeFor(ctx context.Context, productID uint) ([]models.RecipeItem, error) {
	return s.store.Recipe(ctx, productID)
}

// GetProduct карточка продукта с рецептом (через кеш, если Redis доступен)
func (s *RecipeService) GetProduct(ctx context.Context, id uint) (*models.ProductView, error) {
	key := productCacheKey(id)
	useCache := s.cache != nil
	var version int64
	if useCache {
		var err error
		if version, err = s.cache.GetInt64(ctx, productVersionKey(id)); err != nil {
			s.log.WithField("key", key).Warnf("⚠️ Redis: ошибка чтения версии продукта: %v", err)
			useCache = false
		}
	}
	if useCache {
		var cached cachedProduct
		err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && cached.Version == version {
			return &cached.View, nil
		}
		if err != nil && !errors.Is(err, utils.ErrCacheMiss) {
			s.log.WithField("key", key).Warnf("⚠️ Redis: ошибка чтения кеша продукта: %v", err)
		}
	}

	product, err := s.store.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	recipe, err := s.store.Recipe(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &models.ProductView{Product: *product, Recipe: recipe}

	if useCache {
		if err := s.cache.SetJSON(ctx, key, cachedProduct{Version: version, View: *view}, productCacheTTL); err != nil {
			s.log.WithField("key", key).Warnf("⚠️ Redis: не удалось сохранить кеш продукта: %v", err)
		}
	}
	return view, nil
}

// ListProducts все продукты с рецептами
func (s *RecipeService) ListProducts(ctx context.Context) ([]models.ProductView, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]models.ProductView, 0, len(products))
	for _, p := range products {
		recipe, err := s.store.Recipe(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, models.ProductView{Product: p, Recipe: recipe})
	}
	return views, nil
}

// CreateProduct создает продукт и рецепт в одной транзакции
func (s *RecipeService) CreateProduct(ctx context.Context, req *models.ProductRequest) (*models.ProductView, error) {
	if errs := validation.Product(req, validation.ModeCreate); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}
	price, err := quantity.ParseWithin(req.SalePrice.String(), quantity.PriceBounds)
	if err != nil {
		return nil, apperr.InvalidQuantity("sale_price", err)
	}
	var lines []models.RecipeLine
	if req.Ingredients != nil {
		if lines, err = buildRecipeLines(*req.Ingredients); err != nil {
			return nil, err
		}
	}

	product := models.Product{
		Name:        strings.TrimSpace(*req.Name),
		SalePrice:   price,
		Category:    trimmedOrNil(req.Category),
		Description: trimmedOrNil(req.Description),
	}

	var view *models.ProductView
	err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateProduct(&product); err != nil {
			return err
		}
		if err := ensureIngredientsExist(tx, lines); err != nil {
			return err
		}
		if err := tx.ReplaceRecipe(product.ID, lines); err != nil {
			return err
		}
		recipe, err := tx.RecipeFor(product.ID)
		if err != nil {
			return err
		}
		view = &models.ProductView{Product: product, Recipe: recipe}
		tx.AfterCommit(func() { s.invalidateProductCache(product.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"product_id": view.ID, "lines": len(view.Recipe)}).Info("✅ Продукт создан")
	return view, nil
}

// UpdateProduct частичное изменение. Если прислан ingredients, рецепт
// заменяется целиком под эксклюзивной блокировкой продукта
func (s *RecipeService) UpdateProduct(ctx context.Context, id uint, req *models.ProductRequest) (*models.ProductView, error) {
	if errs := validation.Product(req, validation.ModeUpdate); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}

	patch := models.ProductPatch{
		Name:        trimmedPtr(req.Name),
		Category:    trimmedPtr(req.Category),
		Description: trimmedPtr(req.Description),
	}
	if req.SalePrice != nil {
		price, err := quantity.ParseWithin(req.SalePrice.String(), quantity.PriceBounds)
		if err != nil {
			return nil, apperr.InvalidQuantity("sale_price", err)
		}
		patch.SalePrice = &price
	}
	var lines []models.RecipeLine
	if req.Ingredients != nil {
		var err error
		if lines, err = buildRecipeLines(*req.Ingredients); err != nil {
			return nil, err
		}
	}

	var view *models.ProductView
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockProduct(id, ledger.LockExclusive); err != nil {
			return err
		}
		if err := tx.UpdateProduct(id, patch); err != nil {
			return err
		}
		if req.Ingredients != nil {
			if err := ensureIngredientsExist(tx, lines); err != nil {
				return err
			}
			if err := tx.ReplaceRecipe(id, lines); err != nil {
				return err
			}
		}
		product, err := tx.LockProduct(id, ledger.LockExclusive)
		if err != nil {
			return err
		}
		recipe, err := tx.RecipeFor(id)
		if err != nil {
			return err
		}
		view = &models.ProductView{Product: *product, Recipe: recipe}
		tx.AfterCommit(func() { s.invalidateProductCache(id) })
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id":      id,
		"recipe_replaced": req.Ingredients != nil,
	}).Info("✅ Продукт обновлен")
	return view, nil
}

// DeleteProduct удаляет продукт без продаж вместе с рецептом
func (s *RecipeService) DeleteProduct(ctx context.Context, id uint) error {
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.DeleteProduct(id); err != nil {
			return err
		}
		tx.AfterCommit(func() { s.invalidateProductCache(id) })
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithField("product_id", id).Info("🗑️ Продукт удален")
	return nil
}

// invalidateProductCache сбрасывает карточку и оповещает другие экземпляры
func (s *RecipeService) invalidateProductCache(id uint) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := s.cache.Incr(ctx, productVersionKey(id)); err != nil {
		s.log.WithField("product_id", id).Warnf("⚠️ Redis: не удалось увеличить версию продукта: %v", err)
	}
	if err := s.cache.Delete(ctx, productCacheKey(id)); err != nil {
		s.log.WithField("product_id", id).Warnf("⚠️ Redis: не удалось сбросить кеш продукта: %v", err)
	}
	if err := s.cache.Publish(ctx, productsUpdateChannel, map[string]interface{}{
		"product_id": id,
		"timestamp":  time.Now().Unix(),
	}); err != nil {
		s.log.Warnf("⚠️ Redis: не удалось опубликовать %s: %v", productsUpdateChannel, err)
	}
}

func productCacheKey(id uint) string {
	return fmt.Sprintf("product:view:%d", id)
}

func productVersionKey(id uint) string {
	return fmt.Sprintf("product:version:%d", id)
}

// lockProductsUsing эксклюзивно блокирует продукты, в рецептах которых есть
// ингредиент. Выборка повторяется, пока набор не перестанет расти.
// Продукты блокируются раньше ингредиентов, как и в продаже
func lockProductsUsing(tx ledger.Tx, ingredientID uint) ([]uint, error) {
	locked := make(map[uint]bool)
	for {
		ids, err := tx.ProductsUsingIngredient(ingredientID)
		if err != nil {
			return nil, err
		}
		grown := false
		for _, productID := range ids {
			if locked[productID] {
				continue
			}
			if _, err := tx.LockProduct(productID, ledger.LockExclusive); err != nil {
				if apperr.KindOf(err) == apperr.KindNotFound {
					continue
				}
				return nil, err
			}
			locked[productID] = true
			grown = true
		}
		if !grown {
			break
		}
	}

	result := make([]uint, 0, len(locked))
	for productID := range locked {
		result = append(result, productID)
	}
	sort.Slice(result, func(a, b int) bool { return result[a] < result[b] })
	return result, nil
}

func buildRecipeLines(reqs []models.RecipeLineRequest) ([]models.RecipeLine, error) {
	lines := make([]models.RecipeLine, 0, len(reqs))
	for i, r := range reqs {
		qty, err := quantity.ParseWithin(r.Quantity.String(), quantity.RecipeBounds)
		if err != nil {
			return nil, apperr.InvalidQuantity(fmt.Sprintf("ingredients[%d].quantity", i), err)
		}
		lines = append(lines, models.RecipeLine{
			IngredientID:    r.IngredientID,
			QuantityPerUnit: qty,
			Unit:            strings.TrimSpace(*r.Unit),
		})
	}
	return lines, nil
}

func ensureIngredientsExist(tx ledger.Tx, lines []models.RecipeLine) error {
	var missing []string
	for _, line := range lines {
		ok, err := tx.IngredientExists(line.IngredientID)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, fmt.Sprintf("Ингредиент с ID %d не существует.", line.IngredientID))
		}
	}
	if len(missing) > 0 {
		return apperr.Validation(missing)
	}
	return nil
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func trimmedOrNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return trimmedPtr(s)
}
