package main

import (
	"context"
	"encoding/json"

	"github.com/joho/godotenv"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/config"
	"stockledger/server/internal/database"
	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
)

// Демо-данные: кофейня с латте, капучино и эспрессо.
// Запуск: go run scripts/seed_demo_data.go
// Повторный запуск не дублирует данные (существующие имена пропускаются).

type demoIngredient struct {
	Name, Unit, Stock, Minimum string
}

type demoLine struct {
	Ingredient, Quantity string
}

type demoProduct struct {
	Name, Price, Category string
	Lines                 []demoLine
}

var demoIngredients = []demoIngredient{
	{"Молоко", "L", "20", "5"},
	{"Сахар", "kg", "5", "1"},
	{"Кофе зерновой", "kg", "3", "0.5"},
	{"Сироп ванильный", "L", "1.5", "0.25"},
	{"Стаканчик 300 мл", "pcs", "500", "100"},
}

var demoProducts = []demoProduct{
	{"Latte", "3.50", "Кофе", []demoLine{
		{"Молоко", "0.2"}, {"Сахар", "0.01"}, {"Кофе зерновой", "0.018"}, {"Стаканчик 300 мл", "1"},
	}},
	{"Cappuccino", "3.20", "Кофе", []demoLine{
		{"Молоко", "0.15"}, {"Кофе зерновой", "0.018"}, {"Стаканчик 300 мл", "1"},
	}},
	{"Vanilla Latte", "4.10", "Кофе", []demoLine{
		{"Молоко", "0.2"}, {"Сироп ванильный", "0.02"}, {"Кофе зерновой", "0.018"}, {"Стаканчик 300 мл", "1"},
	}},
	{"Espresso", "2.00", "Кофе", []demoLine{{"Кофе зерновой", "0.009"}}},
	{"Бутилированная вода", "1.50", "Напитки", nil},
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := config.NewLogger(cfg)

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2}, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Ошибка подключения к БД")
	}
	defer database.ClosePostgres(db)
	if err := models.AutoMigrate(db, log); err != nil {
		log.WithError(err).Fatal("❌ Ошибка миграции")
	}

	ctx := context.Background()
	store := database.NewGormStore(db, cfg.LockTimeout)
	stock := services.NewStockService(store, nil, log)
	ingredients := services.NewIngredientService(store, stock, log)
	recipes := services.NewRecipeService(store, log)
	sales := services.NewSaleService(store, stock, log)

	existing, err := ingredients.List(ctx)
	if err != nil {
		log.WithError(err).Fatal("❌ Ошибка чтения ингредиентов")
	}
	ids := make(map[string]uint, len(existing))
	for _, ing := range existing {
		ids[ing.Name] = ing.ID
	}

	units := make(map[string]string, len(demoIngredients))
	for _, d := range demoIngredients {
		units[d.Name] = d.Unit
		if _, ok := ids[d.Name]; ok {
			log.Infof("ℹ️ Ингредиент уже есть: %s", d.Name)
			continue
		}
		ing, err := ingredients.Create(ctx, &models.IngredientRequest{
			Name:         strPtr(d.Name),
			Unit:         strPtr(d.Unit),
			CurrentStock: numPtr(d.Stock),
			MinimumStock: numPtr(d.Minimum),
		})
		if err != nil {
			log.WithError(err).Fatalf("❌ Ошибка создания ингредиента %s", d.Name)
		}
		ids[ing.Name] = ing.ID
		log.Infof("✅ Ингредиент: %s (%s %s)", ing.Name, ing.CurrentStock, ing.Unit)
	}

	var latteID uint
	for _, p := range demoProducts {
		lines := make([]models.RecipeLineRequest, 0, len(p.Lines))
		for _, l := range p.Lines {
			lines = append(lines, models.RecipeLineRequest{
				IngredientID: ids[l.Ingredient],
				Quantity:     numPtr(l.Quantity),
				Unit:         strPtr(units[l.Ingredient]),
			})
		}
		view, err := recipes.CreateProduct(ctx, &models.ProductRequest{
			Name:        strPtr(p.Name),
			SalePrice:   numPtr(p.Price),
			Category:    strPtr(p.Category),
			Ingredients: &lines,
		})
		if apperr.KindOf(err) == apperr.KindIntegrityConflict {
			log.Infof("ℹ️ Продукт уже есть: %s", p.Name)
			continue
		}
		if err != nil {
			log.WithError(err).Fatalf("❌ Ошибка создания продукта %s", p.Name)
		}
		if view.Name == "Latte" {
			latteID = view.ID
		}
		log.Infof("✅ Продукт: %s (%d ингредиентов)", view.Name, len(view.Recipe))
	}

	// Пробная продажа только при первом запуске
	if latteID != 0 {
		result, err := sales.Sell(ctx, &models.SaleRequest{ProductID: latteID, UnitsSold: 2, Note: "демо"})
		if err != nil {
			log.WithError(err).Fatal("❌ Ошибка пробной продажи")
		}
		log.Infof("✅ %s (продажа #%d, списаний: %d)", result.Message, result.SaleID, len(result.Movements))
	}

	log.Info("🎉 Демо-данные загружены")
}

func strPtr(s string) *string { return &s }

func numPtr(s string) *json.Number {
	n := json.Number(s)
	return &n
}
