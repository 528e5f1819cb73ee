package quantity

// Bounds ограничения для конкретного поля
type Bounds struct {
	Max           Quantity
	Places        int32 // допустимое число знаков после запятой (<= Scale)
	AllowNegative bool
}

var (
	// StockBounds остатки и минимальные остатки: NUMERIC(10,3)
	StockBounds = Bounds{Max: FromMilli(9_999_999_999), Places: 3}
	// RecipeBounds количество на единицу продукта: NUMERIC(8,3)
	RecipeBounds = Bounds{Max: FromMilli(99_999_999), Places: 3}
	// PriceBounds цена продажи: NUMERIC(10,2)
	PriceBounds = Bounds{Max: FromMilli(99_999_999_990), Places: 2}
	// SaleTotalBounds сумма продажи: NUMERIC(14,2)
	SaleTotalBounds = Bounds{Max: FromMilli(999_999_999_999_990), Places: 2}
)

// Check проверяет уже построенное значение
func (b Bounds) Check(q Quantity) error {
	if !b.AllowNegative && q.IsNegative() {
		return &Error{Input: q.String(), Reason: "не может быть отрицательным"}
	}
	if q.Abs().GreaterThan(b.Max) {
		return &Error{Input: q.String(), Reason: "превышает максимум " + b.Max.StringFixed(b.places())}
	}
	if b.places() < Scale {
		step := int64(1)
		for i := b.places(); i < Scale; i++ {
			step *= 10
		}
		if q.milli%step != 0 {
			return &Error{Input: q.String(), Reason: "слишком много знаков после запятой"}
		}
	}
	return nil
}

// ParseWithin Parse + Check
func ParseWithin(s string, b Bounds) (Quantity, error) {
	q, err := Parse(s)
	if err != nil {
		return Zero, err
	}
	if err := b.Check(q); err != nil {
		return Zero, err
	}
	return q, nil
}

func (b Bounds) places() int32 {
	if b.Places <= 0 || b.Places > Scale {
		return Scale
	}
	return b.Places
}
