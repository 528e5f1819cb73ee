package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportController отчеты только для чтения
type ReportController struct {
	reportService    *services.ReportService
	reconcileService *services.ReconcileService
	log              *logrus.Logger
}

// NewReportController создает новый контроллер отчетов
func NewReportController(reports *services.ReportService, reconcile *services.ReconcileService, log *logrus.Logger) *ReportController {
	return &ReportController{reportService: reports, reconcileService: reconcile, log: log}
}

// StockLevels GET /reports/stock-levels
func (rc *ReportController) StockLevels(c *gin.Context) {
	levels, err := rc.reportService.StockLevels(c.Request.Context())
	if err != nil {
		respondError(c, rc.log, "StockLevels", err)
		return
	}
	low := 0
	for _, l := range levels {
		if l.Status == services.StockStatusLow {
			low++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     levels,
		"count":     len(levels),
		"low_stock": low,
	})
}

// ExportStockLevels GET /reports/stock-levels.xlsx
func (rc *ReportController) ExportStockLevels(c *gin.Context) {
	data, err := rc.reportService.ExportStockLevels(c.Request.Context())
	if err != nil {
		respondError(c, rc.log, "ExportStockLevels", err)
		return
	}
	filename := fmt.Sprintf("stock-levels-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ProductRanking GET /reports/product-ranking?order=desc&limit=10
func (rc *ReportController) ProductRanking(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, rc.log, "ProductRanking", apperr.Validation([]string{"Параметр 'limit' должен быть целым числом."}))
			return
		}
		limit = v
	}
	ranking, err := rc.reportService.ProductRanking(c.Request.Context(), c.Query("order"), limit)
	if err != nil {
		respondError(c, rc.log, "ProductRanking", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": ranking,
		"count":    len(ranking),
	})
}

// DailySales GET /reports/daily-sales?from&to
func (rc *ReportController) DailySales(c *gin.Context) {
	summary, err := rc.reportService.DailySales(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, rc.log, "DailySales", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// MonthlySales GET /reports/monthly-sales?from&to
func (rc *ReportController) MonthlySales(c *gin.Context) {
	summary, err := rc.reportService.MonthlySales(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, rc.log, "MonthlySales", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Reconciliation GET /reports/reconciliation
func (rc *ReportController) Reconciliation(c *gin.Context) {
	report, err := rc.reconcileService.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, rc.log, "Reconciliation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     report.OK(),
		"report": report,
	})
}
