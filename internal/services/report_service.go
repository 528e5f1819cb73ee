package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

const (
	StockStatusLow = "LOW_STOCK"
	StockStatusOK  = "OK"

	dateLayout = "2006-01-02"
)

// ReportService отчеты только читают журнал
type ReportService struct {
	store ledger.Reader
	log   *logrus.Logger
}

// NewReportService создает новый экземпляр ReportService
func NewReportService(store ledger.Reader, log *logrus.Logger) *ReportService {
	return &ReportService{store: store, log: log}
}

// StockLevel остаток с признаком "ниже минимума"
type StockLevel struct {
	models.Ingredient
	Status string `json:"status"`
}

// StockLevels текущие остатки по всем ингредиентам
func (s *ReportService) StockLevels(ctx context.Context) ([]StockLevel, error) {
	ingredients, err := s.store.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	levels := make([]StockLevel, 0, len(ingredients))
	for _, ing := range ingredients {
		status := StockStatusOK
		if ing.BelowMinimum() {
			status = StockStatusLow
		}
		levels = append(levels, StockLevel{Ingredient: ing, Status: status})
	}
	return levels, nil
}

// MovementHistory движения за период [from, to] (даты YYYY-MM-DD, пустые - без границы),
// новые сверху
func (s *ReportService) MovementHistory(ctx context.Context, from, to string) ([]models.MovementView, error) {
	start, end, err := parsePeriod(from, to)
	if err != nil {
		return nil, err
	}
	return s.store.ListMovements(ctx, ledger.MovementFilter{From: start, To: end})
}

// ProductRank строка рейтинга продуктов по проданным единицам
type ProductRank struct {
	ProductID   uint              `json:"product_id"`
	ProductName string            `json:"product_name"`
	UnitsSold   int64             `json:"units_sold"`
	SalesCount  int               `json:"sales_count"`
	Revenue     quantity.Quantity `json:"revenue"`
}

// ProductRanking order: "desc" (самые продаваемые) или "asc"; limit 1..100, по умолчанию 10
func (s *ReportService) ProductRanking(ctx context.Context, order string, limit int) ([]ProductRank, error) {
	order = strings.ToLower(strings.TrimSpace(order))
	if order == "" {
		order = "desc"
	}
	var errs []string
	if order != "asc" && order != "desc" {
		errs = append(errs, "Параметр 'order' должен быть 'asc' или 'desc'.")
	}
	if limit == 0 {
		limit = 10
	}
	if limit < 1 || limit > 100 {
		errs = append(errs, "Параметр 'limit' должен быть от 1 до 100.")
	}
	if len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}

	sales, err := s.store.ListSales(ctx, ledger.SaleFilter{})
	if err != nil {
		return nil, err
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	byProduct := make(map[uint]*ProductRank)
	for _, sale := range sales {
		rank, ok := byProduct[sale.ProductID]
		if !ok {
			rank = &ProductRank{ProductID: sale.ProductID, ProductName: names[sale.ProductID]}
			byProduct[sale.ProductID] = rank
		}
		rank.UnitsSold += int64(sale.Units)
		rank.SalesCount++
		rank.Revenue = rank.Revenue.Add(sale.TotalAmount)
	}

	ranking := make([]ProductRank, 0, len(byProduct))
	for _, r := range byProduct {
		ranking = append(ranking, *r)
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].UnitsSold != ranking[j].UnitsSold {
			if order == "asc" {
				return ranking[i].UnitsSold < ranking[j].UnitsSold
			}
			return ranking[i].UnitsSold > ranking[j].UnitsSold
		}
		return ranking[i].ProductName < ranking[j].ProductName
	})
	if len(ranking) > limit {
		ranking = ranking[:limit]
	}
	return ranking, nil
}

// PeriodSales продажи за день или месяц
type PeriodSales struct {
	Period     string            `json:"period"`
	SalesCount int               `json:"sales_count"`
	UnitsSold  int64             `json:"units_sold"`
	Revenue    quantity.Quantity `json:"revenue"`
}

// SalesSummary продажи по периодам и средние значения на период
type SalesSummary struct {
	Periods        []PeriodSales     `json:"periods"`
	AverageUnits   quantity.Quantity `json:"average_units"`
	AverageRevenue quantity.Quantity `json:"average_revenue"`
}

// DailySales продажи по дням за период
func (s *ReportService) DailySales(ctx context.Context, from, to string) (*SalesSummary, error) {
	return s.salesBy(ctx, from, to, dateLayout)
}

// MonthlySales продажи по месяцам за период
func (s *ReportService) MonthlySales(ctx context.Context, from, to string) (*SalesSummary, error) {
	return s.salesBy(ctx, from, to, "2006-01")
}

func (s *ReportService) salesBy(ctx context.Context, from, to, layout string) (*SalesSummary, error) {
	start, end, err := parsePeriod(from, to)
	if err != nil {
		return nil, err
	}
	sales, err := s.store.ListSales(ctx, ledger.SaleFilter{From: start, To: end})
	if err != nil {
		return nil, err
	}

	byPeriod := make(map[string]*PeriodSales)
	var keys []string
	for _, sale := range sales {
		key := sale.CreatedAt.UTC().Format(layout)
		p, ok := byPeriod[key]
		if !ok {
			p = &PeriodSales{Period: key}
			byPeriod[key] = p
			keys = append(keys, key)
		}
		p.SalesCount++
		p.UnitsSold += int64(sale.Units)
		p.Revenue = p.Revenue.Add(sale.TotalAmount)
	}
	sort.Strings(keys)

	summary := &SalesSummary{Periods: make([]PeriodSales, 0, len(keys))}
	var totalUnits int64
	totalRevenue := quantity.Zero
	for _, k := range keys {
		summary.Periods = append(summary.Periods, *byPeriod[k])
		totalUnits += byPeriod[k].UnitsSold
		totalRevenue = totalRevenue.Add(byPeriod[k].Revenue)
	}
	if n := int64(len(keys)); n > 0 {
		count := decimal.NewFromInt(n)
		summary.AverageUnits = quantity.RoundHalfUp(decimal.NewFromInt(totalUnits).Div(count))
		summary.AverageRevenue = quantity.RoundHalfUp(totalRevenue.Decimal().Div(count))
	}
	return summary, nil
}

// ExportStockLevels отчет об остатках в XLSX
func (s *ReportService) ExportStockLevels(ctx context.Context) ([]byte, error) {
	levels, err := s.StockLevels(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.log.Warnf("⚠️ excelize: ошибка закрытия файла: %v", err)
		}
	}()

	const sheet = "Остатки"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("excelize: %w", err)
	}
	header := []interface{}{"ID", "Ингредиент", "Ед. изм.", "Остаток", "Минимум", "Статус"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("excelize: %w", err)
	}
	for i, level := range levels {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("excelize: %w", err)
		}
		row := []interface{}{
			level.ID,
			level.Name,
			level.Unit,
			level.CurrentStock.Decimal().InexactFloat64(),
			level.MinimumStock.Decimal().InexactFloat64(),
			level.Status,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("excelize: %w", err)
		}
	}

	style, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err == nil && len(levels) > 0 {
		_ = f.SetCellStyle(sheet, "D2", fmt.Sprintf("E%d", len(levels)+1), style)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("excelize: %w", err)
	}
	return buf.Bytes(), nil
}

// parsePeriod границы периода: from включительно, to - до конца дня
func parsePeriod(from, to string) (*time.Time, *time.Time, error) {
	var errs []string
	var start, end *time.Time
	if from = strings.TrimSpace(from); from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			errs = append(errs, "Параметр 'from' должен быть датой в формате YYYY-MM-DD.")
		} else {
			start = &t
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			errs = append(errs, "Параметр 'to' должен быть датой в формате YYYY-MM-DD.")
		} else {
			next := t.AddDate(0, 0, 1)
			end = &next
		}
	}
	if start != nil && end != nil && !start.Before(*end) {
		errs = append(errs, "Дата 'from' не может быть позже 'to'.")
	}
	if len(errs) > 0 {
		return nil, nil, apperr.Validation(errs)
	}
	return start, end, nil
}
