package models

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutoMigrate создает таблицы журнала в порядке зависимостей
func AutoMigrate(db *gorm.DB, logger *logrus.Logger) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{"ingredients", &Ingredient{}},
		{"products", &Product{}},
		{"recipe_lines", &RecipeLine{}},
		{"sales", &Sale{}},
		{"movements", &Movement{}},
	}

	for _, t := range tables {
		if err := db.AutoMigrate(t.model); err != nil {
			logger.WithField("table", t.name).Errorf("❌ AutoMigrate failed: %v", err)
			return err
		}
		logger.Debugf("✅ %s table migrated successfully", t.name)
	}

	// Остаток не может уйти в минус даже в обход сервиса
	if err := db.Exec(`DO $$ BEGIN
		ALTER TABLE ingredients ADD CONSTRAINT chk_ingredients_stock_non_negative CHECK (current_stock >= 0);
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`).Error; err != nil {
		logger.Warnf("⚠️ Не удалось добавить CHECK для остатков: %v", err)
	}

	logger.Info("✅ Таблицы журнала остатков мигрированы")
	return nil
}
