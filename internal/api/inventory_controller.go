package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
)

const maxUploadSize = 5 << 20

// InventoryController поступления, продажи и журнал движений
type InventoryController struct {
	stockService  *services.StockService
	saleService   *services.SaleService
	reportService *services.ReportService
	log           *logrus.Logger
}

// NewInventoryController создает новый контроллер склада
func NewInventoryController(stock *services.StockService, sales *services.SaleService, reports *services.ReportService, log *logrus.Logger) *InventoryController {
	return &InventoryController{
		stockService:  stock,
		saleService:   sales,
		reportService: reports,
		log:           log,
	}
}

// RecordEntry поступление ингредиента на склад
// POST /inventory/entries
func (ic *InventoryController) RecordEntry(c *gin.Context) {
	var req models.EntryRequest
	if !bindJSON(c, ic.log, "RecordEntry", &req) {
		return
	}

	result, err := ic.stockService.RecordEntry(c.Request.Context(), &req)
	if err != nil {
		respondError(c, ic.log, "RecordEntry", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BatchEntriesRequest тело пакетного поступления
type BatchEntriesRequest struct {
	Entries []models.EntryRequest `json:"entries"`
}

// ImportEntries пакетное поступление (накладная) в одной транзакции
// POST /inventory/entries/batch
func (ic *InventoryController) ImportEntries(c *gin.Context) {
	var req BatchEntriesRequest
	if !bindJSON(c, ic.log, "ImportEntries", &req) {
		return
	}

	result, err := ic.stockService.ImportEntries(c.Request.Context(), req.Entries)
	if err != nil {
		respondError(c, ic.log, "ImportEntries", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UploadEntries накладная файлом XLSX (multipart, поле "file")
// POST /inventory/entries/import
func (ic *InventoryController) UploadEntries(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, ic.log, "UploadEntries", apperr.Validation([]string{"Файл накладной обязателен (поле 'file')."}))
		return
	}
	if header.Size > maxUploadSize {
		respondError(c, ic.log, "UploadEntries", apperr.Validation([]string{"Файл накладной слишком большой."}))
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, ic.log, "UploadEntries", err)
		return
	}
	defer file.Close()

	entries, err := services.ParseEntrySheet(file)
	if err != nil {
		respondError(c, ic.log, "UploadEntries", err)
		return
	}
	result, err := ic.stockService.ImportEntries(c.Request.Context(), entries)
	if err != nil {
		respondError(c, ic.log, "UploadEntries", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordSale продажа и списание ингредиентов по рецепту
// POST /inventory/sale-consumption
func (ic *InventoryController) RecordSale(c *gin.Context) {
	var req models.SaleRequest
	if !bindJSON(c, ic.log, "RecordSale", &req) {
		return
	}

	result, err := ic.saleService.Sell(c.Request.Context(), &req)
	if err != nil {
		// неизвестный продукт здесь - ошибка входных данных
		if apperr.KindOf(err) == apperr.KindNotFound {
			respondErrorStatus(c, ic.log, "RecordSale", err, http.StatusBadRequest)
			return
		}
		respondError(c, ic.log, "RecordSale", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListMovements журнал движений
// GET /inventory/movements?from=YYYY-MM-DD&to=YYYY-MM-DD
func (ic *InventoryController) ListMovements(c *gin.Context) {
	movements, err := ic.reportService.MovementHistory(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, ic.log, "ListMovements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"movements": movements,
		"count":     len(movements),
	})
}
