package models

import "strings"

// MovementKind тег вида движения. Набор открытый: направление определяется суффиксом
type MovementKind string

const (
	MovementPurchaseIn    MovementKind = "PURCHASE_IN"    // Поступление от поставщика
	MovementSaleOut       MovementKind = "SALE_OUT"       // Списание по продаже
	MovementAdjustmentIn  MovementKind = "ADJUSTMENT_IN"  // Корректировка в плюс (инвентаризация)
	MovementAdjustmentOut MovementKind = "ADJUSTMENT_OUT" // Корректировка в минус
)

const outboundSuffix = "_OUT"

// NormalizeMovementKind приводит пользовательский ввод к тегу: "purchase_in " -> "PURCHASE_IN"
func NormalizeMovementKind(raw string) MovementKind {
	return MovementKind(strings.ToUpper(strings.TrimSpace(raw)))
}

// Direction -1 для расходных видов (*_OUT), +1 для остальных
func (k MovementKind) Direction() int {
	if strings.HasSuffix(string(k), outboundSuffix) {
		return -1
	}
	return 1
}

func (k MovementKind) String() string {
	return string(k)
}
