package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterDeps контроллеры и настройки HTTP слоя
type RouterDeps struct {
	Inventory      *InventoryController
	Ingredients    *IngredientController
	Products       *ProductController
	Reports        *ReportController
	WS             *WSController
	AllowedOrigins []string
	Log            *logrus.Logger
}

// SetupRouter собирает gin.Engine со всеми маршрутами
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check до CORS и логирования
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "Stock Ledger",
			"version": "1.0.0",
		})
	})

	r.Use(requestLogger(deps.Log))
	r.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	inventory := r.Group("/inventory")
	{
		inventory.POST("/entries", deps.Inventory.RecordEntry)
		inventory.POST("/entries/batch", deps.Inventory.ImportEntries)
		inventory.POST("/entries/import", deps.Inventory.UploadEntries)
		inventory.POST("/sale-consumption", deps.Inventory.RecordSale)
		inventory.GET("/movements", deps.Inventory.ListMovements)
	}

	ingredients := r.Group("/ingredients")
	{
		ingredients.GET("", deps.Ingredients.List)
		ingredients.POST("", deps.Ingredients.Create)
		ingredients.GET("/:id", deps.Ingredients.Get)
		ingredients.PUT("/:id", deps.Ingredients.Update)
		ingredients.DELETE("/:id", deps.Ingredients.Delete)
	}

	products := r.Group("/products")
	{
		products.GET("", deps.Products.List)
		products.POST("", deps.Products.Create)
		products.GET("/:id", deps.Products.Get)
		products.GET("/:id/recipe", deps.Products.GetRecipe)
		products.PUT("/:id", deps.Products.Update)
		products.DELETE("/:id", deps.Products.Delete)
	}

	reports := r.Group("/reports")
	{
		reports.GET("/stock-levels", deps.Reports.StockLevels)
		reports.GET("/stock-levels.xlsx", deps.Reports.ExportStockLevels)
		reports.GET("/product-ranking", deps.Reports.ProductRanking)
		reports.GET("/daily-sales", deps.Reports.DailySales)
		reports.GET("/monthly-sales", deps.Reports.MonthlySales)
		reports.GET("/reconciliation", deps.Reports.Reconciliation)
	}

	if deps.WS != nil {
		r.GET("/ws/movements", deps.WS.ServeMovements)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Маршрут не найден",
			"kind":    "NotFound",
			"details": []string{c.Request.Method + " " + c.Request.URL.Path},
		})
	})
	return r
}

// requestLogger логирование всех запросов
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Debug("🌐 HTTP запрос")
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition")
	return cfg
}
