// Package quantity реализует Quantity: десятичное число с фиксированной точкой
// (3 знака после запятой), хранящееся как целое число тысячных.
package quantity

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale количество знаков после запятой
const Scale = 3

const unit = 1000

// ErrInvalid базовая ошибка для всех отказов при построении Quantity
var ErrInvalid = errors.New("invalid quantity")

// limit ограничивает модуль значения, чтобы тысячные гарантированно помещались в int64
var limit = decimal.New(1, 15)

// Error описывает, почему вход не является допустимым Quantity
type Error struct {
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("некорректное количество %q: %s", e.Input, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Quantity неизменяемое значение. Нулевое значение равно 0.000
type Quantity struct {
	milli int64
}

// Zero 0.000
var Zero = Quantity{}

func FromMilli(m int64) Quantity { return Quantity{milli: m} }

func FromInt(n int64) Quantity { return Quantity{milli: n * unit} }

// Parse строит Quantity из десятичной строки ("5.5", "0.150", "-2").
// Больше трех значащих знаков после запятой - ошибка, а не округление.
func Parse(s string) (Quantity, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Zero, &Error{Input: s, Reason: "пустое значение"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Zero, &Error{Input: s, Reason: "не является десятичным числом"}
	}
	return FromDecimal(d, s)
}

// FromDecimal переводит decimal без округления
func FromDecimal(d decimal.Decimal, input string) (Quantity, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return Zero, &Error{Input: input, Reason: "более 3 знаков после запятой"}
	}
	if d.Abs().GreaterThanOrEqual(limit) {
		return Zero, &Error{Input: input, Reason: "значение слишком велико"}
	}
	return Quantity{milli: d.Shift(Scale).IntPart()}, nil
}

// MustParse для констант и тестов
func MustParse(s string) Quantity {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// RoundHalfUp округляет decimal до 3 знаков (половина - от нуля)
func RoundHalfUp(d decimal.Decimal) Quantity {
	return Quantity{milli: d.Round(Scale).Shift(Scale).IntPart()}
}

func (q Quantity) Milli() int64 { return q.milli }

func (q Quantity) Add(o Quantity) Quantity { return Quantity{milli: q.milli + o.milli} }

func (q Quantity) Sub(o Quantity) Quantity { return Quantity{milli: q.milli - o.milli} }

func (q Quantity) Neg() Quantity { return Quantity{milli: -q.milli} }

func (q Quantity) Abs() Quantity {
	if q.milli < 0 {
		return q.Neg()
	}
	return q
}

// MulInt умножает на целое; переполнение int64 - ошибка
func (q Quantity) MulInt(n int64) (Quantity, error) {
	if q.milli == 0 || n == 0 {
		return Zero, nil
	}
	product := q.milli * n
	if product/n != q.milli || (q.milli == math.MinInt64 && n == -1) {
		return Zero, &Error{Input: fmt.Sprintf("%s x %d", q, n), Reason: "переполнение при умножении"}
	}
	return Quantity{milli: product}, nil
}

// Cmp возвращает -1, 0 или 1
func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.milli < o.milli:
		return -1
	case q.milli > o.milli:
		return 1
	}
	return 0
}

func (q Quantity) Equal(o Quantity) bool { return q.milli == o.milli }

func (q Quantity) LessThan(o Quantity) bool { return q.milli < o.milli }

func (q Quantity) GreaterThan(o Quantity) bool { return q.milli > o.milli }

func (q Quantity) IsZero() bool { return q.milli == 0 }

func (q Quantity) IsNegative() bool { return q.milli < 0 }

func (q Quantity) Sign() int {
	return q.Cmp(Zero)
}

// Decimal точное представление для отчетов и хранилища
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(q.milli, -Scale)
}

// String всегда три знака: "15.500"
func (q Quantity) String() string {
	return q.Decimal().StringFixed(Scale)
}

// StringFixed форматирует с заданным числом знаков (цены - 2)
func (q Quantity) StringFixed(places int32) string {
	return q.Decimal().StringFixed(places)
}

// MarshalJSON пишет число, а не строку: {"current_stock": 15.500}
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON принимает число или строку с числом
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return &Error{Input: raw, Reason: "не является десятичным числом"}
		}
		raw = unquoted
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Value сохраняет в NUMERIC как точную строку
func (q Quantity) Value() (driver.Value, error) {
	return q.String(), nil
}

// Scan читает NUMERIC из базы. float64 приходит только от драйверов без NUMERIC,
// такие значения округляются до 3 знаков.
func (q *Quantity) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*q = Zero
		return nil
	case []byte:
		return q.scanString(string(v))
	case string:
		return q.scanString(v)
	case int64:
		*q = FromInt(v)
		return nil
	case float64:
		*q = RoundHalfUp(decimal.NewFromFloat(v))
		return nil
	}
	return fmt.Errorf("quantity: unsupported scan type %T", src)
}

func (q *Quantity) scanString(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("quantity: scan %q: %w", s, err)
	}
	*q = RoundHalfUp(d)
	return nil
}
