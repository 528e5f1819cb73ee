package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

// exclusiveWeight вес эксклюзивной блокировки; разделяемая берет 1
const exclusiveWeight = 1 << 20

// MemoryStore хранилище в памяти процесса с построчными блокировками.
// Запись внутри транзакции накапливается и применяется атомарно при коммите.
// Используется в тестах и в development-режиме без PostgreSQL.
type MemoryStore struct {
	mu          sync.Mutex
	lockTimeout time.Duration
	now         func() time.Time

	ingredients map[uint]models.Ingredient
	products    map[uint]models.Product
	recipes     map[uint][]models.RecipeLine
	movements   []models.Movement
	sales       []models.Sale

	seqIngredient uint
	seqProduct    uint
	seqRecipe     uint
	seqMovement   uint
	seqSale       uint

	ingredientLocks map[uint]*semaphore.Weighted
	productLocks    map[uint]*semaphore.Weighted
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &MemoryStore{
		lockTimeout:     lockTimeout,
		now:             func() time.Time { return time.Now().UTC() },
		ingredients:     make(map[uint]models.Ingredient),
		products:        make(map[uint]models.Product),
		recipes:         make(map[uint][]models.RecipeLine),
		ingredientLocks: make(map[uint]*semaphore.Weighted),
		productLocks:    make(map[uint]*semaphore.Weighted),
	}
}

// SetClock подменяет источник времени (тесты отчетов)
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx := &memTx{
		store:              s,
		ctx:                ctx,
		ingredients:        make(map[uint]*models.Ingredient),
		deletedIngredients: make(map[uint]bool),
		products:           make(map[uint]*models.Product),
		deletedProducts:    make(map[uint]bool),
		recipes:            make(map[uint][]models.RecipeLine),
		ingredientLocks:    make(map[uint]bool),
		productLocks:       make(map[uint]int64),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := s.commit(tx); err != nil {
		return err
	}
	tx.release()
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

func (s *MemoryStore) semaphoreFor(locks map[uint]*semaphore.Weighted, id uint) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := locks[id]
	if !ok {
		sem = semaphore.NewWeighted(exclusiveWeight)
		locks[id] = sem
	}
	return sem
}

// commit проверяет ограничения итогового состояния и применяет изменения
func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalIngredients := make(map[uint]models.Ingredient, len(s.ingredients)+len(tx.ingredients))
	for id, ing := range s.ingredients {
		finalIngredients[id] = ing
	}
	for id, ing := range tx.ingredients {
		finalIngredients[id] = *ing
	}
	for id := range tx.deletedIngredients {
		delete(finalIngredients, id)
	}

	finalProducts := make(map[uint]models.Product, len(s.products)+len(tx.products))
	for id, p := range s.products {
		finalProducts[id] = p
	}
	for id, p := range tx.products {
		finalProducts[id] = *p
	}
	for id := range tx.deletedProducts {
		delete(finalProducts, id)
	}

	finalRecipes := make(map[uint][]models.RecipeLine, len(s.recipes))
	for id, lines := range s.recipes {
		finalRecipes[id] = lines
	}
	for id, lines := range tx.recipes {
		finalRecipes[id] = lines
	}
	for id := range tx.deletedProducts {
		delete(finalRecipes, id)
	}

	if err := uniqueNames(finalIngredients, finalProducts); err != nil {
		return err
	}

	for productID, lines := range finalRecipes {
		if _, ok := finalProducts[productID]; !ok && len(lines) > 0 {
			return apperr.Conflict(fmt.Sprintf("Рецепт ссылается на несуществующий продукт %d", productID), nil)
		}
		for _, line := range lines {
			if _, ok := finalIngredients[line.IngredientID]; !ok {
				return apperr.Conflict(fmt.Sprintf("Рецепт продукта %d ссылается на несуществующий ингредиент %d", productID, line.IngredientID), nil)
			}
		}
	}
	for _, m := range append(append([]models.Movement(nil), s.movements...), tx.movements...) {
		if _, ok := finalIngredients[m.IngredientID]; !ok {
			return apperr.Conflict(fmt.Sprintf("По ингредиенту %d есть движения в журнале, удаление запрещено", m.IngredientID), nil)
		}
	}
	for _, sale := range append(append([]models.Sale(nil), s.sales...), tx.sales...) {
		if _, ok := finalProducts[sale.ProductID]; !ok {
			return apperr.Conflict(fmt.Sprintf("По продукту %d есть продажи, удаление запрещено", sale.ProductID), nil)
		}
	}

	s.ingredients = finalIngredients
	s.products = finalProducts
	s.recipes = finalRecipes
	s.movements = append(s.movements, tx.movements...)
	s.sales = append(s.sales, tx.sales...)
	return nil
}

func uniqueNames(ingredients map[uint]models.Ingredient, products map[uint]models.Product) error {
	seen := make(map[string]uint, len(ingredients))
	for id, ing := range ingredients {
		if other, ok := seen[ing.Name]; ok && other != id {
			return apperr.Conflict(fmt.Sprintf("Ингредиент с именем '%s' уже существует", ing.Name), nil)
		}
		seen[ing.Name] = id
	}
	seen = make(map[string]uint, len(products))
	for id, p := range products {
		if other, ok := seen[p.Name]; ok && other != id {
			return apperr.Conflict(fmt.Sprintf("Продукт с именем '%s' уже существует", p.Name), nil)
		}
		seen[p.Name] = id
	}
	return nil
}

type heldLock struct {
	sem    *semaphore.Weighted
	weight int64
}

type memTx struct {
	store *MemoryStore
	ctx   context.Context

	ingredients        map[uint]*models.Ingredient
	deletedIngredients map[uint]bool
	products           map[uint]*models.Product
	deletedProducts    map[uint]bool
	recipes            map[uint][]models.RecipeLine
	movements          []models.Movement
	sales              []models.Sale

	held            []heldLock
	ingredientLocks map[uint]bool
	productLocks    map[uint]int64
	released        bool

	hooks []func()
}

func (t *memTx) Context() context.Context { return t.ctx }

func (t *memTx) AfterCommit(fn func()) { t.hooks = append(t.hooks, fn) }

func (t *memTx) release() {
	if t.released {
		return
	}
	t.released = true
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].sem.Release(t.held[i].weight)
	}
	t.held = nil
}

func (t *memTx) acquire(sem *semaphore.Weighted, weight int64) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.store.lockTimeout)
	defer cancel()
	if err := sem.Acquire(ctx, weight); err != nil {
		return apperr.LockTimeout(err)
	}
	t.held = append(t.held, heldLock{sem: sem, weight: weight})
	return nil
}

func (t *memTx) ingredient(id uint) (models.Ingredient, bool) {
	if t.deletedIngredients[id] {
		return models.Ingredient{}, false
	}
	if ing, ok := t.ingredients[id]; ok {
		return *ing, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	ing, ok := t.store.ingredients[id]
	return ing, ok
}

func (t *memTx) product(id uint) (models.Product, bool) {
	if t.deletedProducts[id] {
		return models.Product{}, false
	}
	if p, ok := t.products[id]; ok {
		return *p, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.products[id]
	return p, ok
}

func (t *memTx) LockIngredient(id uint) (*models.Ingredient, error) {
	if !t.ingredientLocks[id] {
		if err := t.acquire(t.store.semaphoreFor(t.store.ingredientLocks, id), exclusiveWeight); err != nil {
			return nil, err
		}
		t.ingredientLocks[id] = true
	}
	ing, ok := t.ingredient(id)
	if !ok {
		return nil, apperr.IngredientNotFound(id)
	}
	return &ing, nil
}

func (t *memTx) GetIngredient(id uint) (*models.Ingredient, error) {
	ing, ok := t.ingredient(id)
	if !ok {
		return nil, apperr.IngredientNotFound(id)
	}
	return &ing, nil
}

func (t *memTx) SetIngredientStock(id uint, stock quantity.Quantity) error {
	if !t.ingredientLocks[id] {
		return fmt.Errorf("ingredient %d is not locked by this transaction", id)
	}
	ing, ok := t.ingredient(id)
	if !ok {
		return apperr.IngredientNotFound(id)
	}
	ing.CurrentStock = stock
	ing.UpdatedAt = t.store.clock()
	t.ingredients[id] = &ing
	return nil
}

func (t *memTx) AppendMovement(m *models.Movement) error {
	if _, ok := t.ingredient(m.IngredientID); !ok {
		return apperr.Conflict(fmt.Sprintf("Нарушена ссылочная целостность: ингредиент %d", m.IngredientID), nil)
	}
	t.store.mu.Lock()
	t.store.seqMovement++
	m.ID = t.store.seqMovement
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.store.now()
	}
	t.store.mu.Unlock()
	t.movements = append(t.movements, *m)
	return nil
}

func (t *memTx) CreateIngredient(ing *models.Ingredient) error {
	if t.nameTaken(ing.Name, 0, true) {
		return apperr.Conflict(fmt.Sprintf("Ингредиент с именем '%s' уже существует", ing.Name), nil)
	}
	t.store.mu.Lock()
	t.store.seqIngredient++
	ing.ID = t.store.seqIngredient
	now := t.store.now()
	t.store.mu.Unlock()
	if ing.CreatedAt.IsZero() {
		ing.CreatedAt = now
	}
	ing.UpdatedAt = now

	created := *ing
	t.ingredients[ing.ID] = &created
	t.ingredientLocks[ing.ID] = true // новая строка видна только этой транзакции
	return nil
}

func (t *memTx) UpdateIngredient(id uint, patch models.IngredientPatch) error {
	current, err := t.LockIngredient(id)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		if t.nameTaken(*patch.Name, id, true) {
			return apperr.Conflict(fmt.Sprintf("Ингредиент с именем '%s' уже существует", *patch.Name), nil)
		}
		current.Name = *patch.Name
	}
	if patch.Unit != nil {
		current.Unit = *patch.Unit
	}
	if patch.MinimumStock != nil {
		current.MinimumStock = *patch.MinimumStock
	}
	if patch.Description != nil {
		current.Description = optionalString(*patch.Description)
	}
	current.UpdatedAt = t.store.clock()
	t.ingredients[id] = current
	return nil
}

func (t *memTx) DeleteIngredient(id uint) error {
	if _, err := t.LockIngredient(id); err != nil {
		return err
	}

	t.store.mu.Lock()
	refs := 0
	for productID, lines := range t.store.recipes {
		if _, replaced := t.recipes[productID]; replaced {
			continue
		}
		for _, line := range lines {
			if line.IngredientID == id {
				refs++
			}
		}
	}
	movements := 0
	for _, m := range t.store.movements {
		if m.IngredientID == id {
			movements++
		}
	}
	t.store.mu.Unlock()
	for _, lines := range t.recipes {
		for _, line := range lines {
			if line.IngredientID == id {
				refs++
			}
		}
	}
	for _, m := range t.movements {
		if m.IngredientID == id {
			movements++
		}
	}

	if refs > 0 {
		return apperr.Conflict(fmt.Sprintf("Ингредиент %d используется в %d рецептах и не может быть удален", id, refs), nil)
	}
	if movements > 0 {
		return apperr.Conflict(fmt.Sprintf("По ингредиенту %d есть движения в журнале, удаление запрещено", id), nil)
	}

	delete(t.ingredients, id)
	t.deletedIngredients[id] = true
	return nil
}

func (t *memTx) IngredientExists(id uint) (bool, error) {
	_, ok := t.ingredient(id)
	return ok, nil
}

func (t *memTx) ProductsUsingIngredient(id uint) ([]uint, error) {
	seen := make(map[uint]bool)
	t.store.mu.Lock()
	for productID, lines := range t.store.recipes {
		if _, replaced := t.recipes[productID]; replaced {
			continue
		}
		for _, line := range lines {
			if line.IngredientID == id {
				seen[productID] = true
			}
		}
	}
	t.store.mu.Unlock()
	for productID, lines := range t.recipes {
		for _, line := range lines {
			if line.IngredientID == id {
				seen[productID] = true
			}
		}
	}

	ids := make([]uint, 0, len(seen))
	for productID := range seen {
		if _, ok := t.product(productID); ok {
			ids = append(ids, productID)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (t *memTx) LockProduct(id uint, mode ledger.LockMode) (*models.Product, error) {
	want := int64(1)
	if mode == ledger.LockExclusive {
		want = exclusiveWeight
	}
	if need := want - t.productLocks[id]; need > 0 {
		if err := t.acquire(t.store.semaphoreFor(t.store.productLocks, id), need); err != nil {
			return nil, err
		}
		t.productLocks[id] = want
	}
	p, ok := t.product(id)
	if !ok {
		return nil, apperr.ProductNotFound(id)
	}
	return &p, nil
}

func (t *memTx) CreateProduct(p *models.Product) error {
	if t.nameTaken(p.Name, 0, false) {
		return apperr.Conflict(fmt.Sprintf("Продукт с именем '%s' уже существует", p.Name), nil)
	}
	t.store.mu.Lock()
	t.store.seqProduct++
	p.ID = t.store.seqProduct
	now := t.store.now()
	t.store.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	created := *p
	created.RecipeLines = nil
	t.products[p.ID] = &created
	t.productLocks[p.ID] = exclusiveWeight
	return nil
}

func (t *memTx) UpdateProduct(id uint, patch models.ProductPatch) error {
	current, err := t.LockProduct(id, ledger.LockExclusive)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		if t.nameTaken(*patch.Name, id, false) {
			return apperr.Conflict(fmt.Sprintf("Продукт с именем '%s' уже существует", *patch.Name), nil)
		}
		current.Name = *patch.Name
	}
	if patch.SalePrice != nil {
		current.SalePrice = *patch.SalePrice
	}
	if patch.Category != nil {
		current.Category = optionalString(*patch.Category)
	}
	if patch.Description != nil {
		current.Description = optionalString(*patch.Description)
	}
	current.UpdatedAt = t.store.clock()
	t.products[id] = current
	return nil
}

func (t *memTx) ReplaceRecipe(productID uint, lines []models.RecipeLine) error {
	if _, ok := t.product(productID); !ok {
		return apperr.ProductNotFound(productID)
	}
	replaced := make([]models.RecipeLine, 0, len(lines))
	seen := make(map[uint]bool, len(lines))
	for _, line := range lines {
		if seen[line.IngredientID] {
			return apperr.Conflict(fmt.Sprintf("Ингредиент %d указан в рецепте более одного раза", line.IngredientID), nil)
		}
		seen[line.IngredientID] = true
		if _, ok := t.ingredient(line.IngredientID); !ok {
			return apperr.Conflict(fmt.Sprintf("Нарушена ссылочная целостность: ингредиент %d", line.IngredientID), nil)
		}
		t.store.mu.Lock()
		t.store.seqRecipe++
		line.ID = t.store.seqRecipe
		t.store.mu.Unlock()
		line.ProductID = productID
		line.Ingredient = nil
		replaced = append(replaced, line)
	}
	t.recipes[productID] = replaced
	return nil
}

func (t *memTx) DeleteProduct(id uint) error {
	if _, err := t.LockProduct(id, ledger.LockExclusive); err != nil {
		return err
	}

	sales := 0
	t.store.mu.Lock()
	for _, s := range t.store.sales {
		if s.ProductID == id {
			sales++
		}
	}
	t.store.mu.Unlock()
	for _, s := range t.sales {
		if s.ProductID == id {
			sales++
		}
	}
	if sales > 0 {
		return apperr.Conflict(fmt.Sprintf("По продукту %d есть продажи (%d), удаление запрещено", id, sales), nil)
	}

	delete(t.products, id)
	delete(t.recipes, id)
	t.deletedProducts[id] = true
	return nil
}

func (t *memTx) RecipeFor(productID uint) ([]models.RecipeItem, error) {
	lines, ok := t.recipes[productID]
	if !ok {
		t.store.mu.Lock()
		lines = append([]models.RecipeLine(nil), t.store.recipes[productID]...)
		t.store.mu.Unlock()
	}
	items := make([]models.RecipeItem, 0, len(lines))
	for _, line := range lines {
		ing, ok := t.ingredient(line.IngredientID)
		if !ok {
			continue
		}
		items = append(items, recipeItem(line, ing))
	}
	sortRecipe(items)
	return items, nil
}

func (t *memTx) InsertSale(sale *models.Sale) error {
	if _, ok := t.product(sale.ProductID); !ok {
		return apperr.Conflict(fmt.Sprintf("Нарушена ссылочная целостность: продукт %d", sale.ProductID), nil)
	}
	t.store.mu.Lock()
	t.store.seqSale++
	sale.ID = t.store.seqSale
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = t.store.now()
	}
	t.store.mu.Unlock()
	t.sales = append(t.sales, *sale)
	return nil
}

// nameTaken проверка уникальности имени с учетом изменений транзакции;
// окончательная проверка выполняется при коммите
func (t *memTx) nameTaken(name string, selfID uint, ingredient bool) bool {
	if ingredient {
		for id, ing := range t.ingredients {
			if id != selfID && ing.Name == name {
				return true
			}
		}
	} else {
		for id, p := range t.products {
			if id != selfID && p.Name == name {
				return true
			}
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if ingredient {
		for id, ing := range t.store.ingredients {
			if _, shadowed := t.ingredients[id]; shadowed || t.deletedIngredients[id] || id == selfID {
				continue
			}
			if ing.Name == name {
				return true
			}
		}
		return false
	}
	for id, p := range t.store.products {
		if _, shadowed := t.products[id]; shadowed || t.deletedProducts[id] || id == selfID {
			continue
		}
		if p.Name == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// --- Reader ---

func (s *MemoryStore) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Ingredient, 0, len(s.ingredients))
	for _, ing := range s.ingredients {
		list = append(list, ing)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *MemoryStore) FindIngredient(ctx context.Context, id uint) (*models.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing, ok := s.ingredients[id]
	if !ok {
		return nil, apperr.IngredientNotFound(id)
	}
	return &ing, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *MemoryStore) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, apperr.ProductNotFound(id)
	}
	return &p, nil
}

func (s *MemoryStore) Recipe(ctx context.Context, productID uint) ([]models.RecipeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.RecipeItem, 0, len(s.recipes[productID]))
	for _, line := range s.recipes[productID] {
		if ing, ok := s.ingredients[line.IngredientID]; ok {
			items = append(items, recipeItem(line, ing))
		}
	}
	sortRecipe(items)
	return items, nil
}

func (s *MemoryStore) ListMovements(ctx context.Context, filter ledger.MovementFilter) ([]models.MovementView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saleProduct := make(map[uint]uint, len(s.sales))
	for _, sale := range s.sales {
		saleProduct[sale.ID] = sale.ProductID
	}

	views := []models.MovementView{}
	for _, m := range s.movements {
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !m.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.IngredientID != 0 && m.IngredientID != filter.IngredientID {
			continue
		}
		if filter.SaleID != 0 && (m.SaleID == nil || *m.SaleID != filter.SaleID) {
			continue
		}
		view := models.MovementView{Movement: m, IngredientName: s.ingredients[m.IngredientID].Name}
		if m.SaleID != nil {
			if p, ok := s.products[saleProduct[*m.SaleID]]; ok {
				name := p.Name
				view.ProductName = &name
			}
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ID > views[j].ID
	})
	return views, nil
}

func (s *MemoryStore) ListSales(ctx context.Context, filter ledger.SaleFilter) ([]models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sales := []models.Sale{}
	for _, sale := range s.sales {
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.ProductID != 0 && sale.ProductID != filter.ProductID {
			continue
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func recipeItem(line models.RecipeLine, ing models.Ingredient) models.RecipeItem {
	return models.RecipeItem{
		IngredientID:    line.IngredientID,
		IngredientName:  ing.Name,
		QuantityPerUnit: line.QuantityPerUnit,
		Unit:            line.Unit,
	}
}

func sortRecipe(items []models.RecipeItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].IngredientName != items[j].IngredientName {
			return items[i].IngredientName < items[j].IngredientName
		}
		return items[i].IngredientID < items[j].IngredientID
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
