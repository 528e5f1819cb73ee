// Package apperr таксономия ошибок сервиса. Kind - стабильный тег для клиентов,
// Message - человекочитаемый текст.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stockledger/server/internal/quantity"
)

type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindInvalidQuantity   Kind = "InvalidQuantity"
	KindNotFound          Kind = "NotFound"
	KindInsufficientStock Kind = "InsufficientStock"
	KindIntegrityConflict Kind = "IntegrityConflict"
	KindLockTimeout       Kind = "LockTimeout"
	KindUnexpected        Kind = "Unexpected"
)

// Уточняющие коды для NotFound
const (
	CodeIngredientNotFound = "IngredientNotFound"
	CodeProductNotFound    = "ProductNotFound"
)

// StockShortage детали нехватки остатка
type StockShortage struct {
	IngredientID   uint              `json:"ingredient_id"`
	IngredientName string            `json:"ingredient_name"`
	Required       quantity.Quantity `json:"required"`
	Available      quantity.Quantity `json:"available"`
}

type Error struct {
	Kind          Kind
	Code          string
	Message       string
	Details       []string
	Shortage      *StockShortage
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindUnexpected {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is позволяет errors.Is(err, &apperr.Error{Kind: ...})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func Validation(details []string) *Error {
	return &Error{Kind: KindValidation, Message: "Ошибка валидации данных", Details: details}
}

func InvalidQuantity(field string, err error) *Error {
	return &Error{
		Kind:    KindInvalidQuantity,
		Message: fmt.Sprintf("Некорректное значение поля '%s'", field),
		Details: []string{err.Error()},
		Err:     err,
	}
}

// InvalidQuantityDetails входные данные отклонены, среди нарушений есть некорректное количество
func InvalidQuantityDetails(details []string) *Error {
	return &Error{Kind: KindInvalidQuantity, Message: "Некорректное количество", Details: details}
}

func IngredientNotFound(id uint) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeIngredientNotFound,
		Message: fmt.Sprintf("Ингредиент с ID %d не найден", id),
	}
}

func ProductNotFound(id uint) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeProductNotFound,
		Message: fmt.Sprintf("Продукт с ID %d не найден", id),
	}
}

func InsufficientStock(s StockShortage) *Error {
	return &Error{
		Kind: KindInsufficientStock,
		Message: fmt.Sprintf("Недостаточно остатка для ингредиента '%s' (ID: %d). Требуется: %s, доступно: %s",
			s.IngredientName, s.IngredientID, s.Required, s.Available),
		Shortage: &s,
	}
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindIntegrityConflict, Message: message, Err: err}
}

func LockTimeout(err error) *Error {
	return &Error{
		Kind:    KindLockTimeout,
		Message: "Превышено время ожидания блокировки, повторите запрос",
		Err:     err,
	}
}

// Unexpected скрывает детали от клиента; по CorrelationID запись находится в логах
func Unexpected(err error) *Error {
	return &Error{
		Kind:          KindUnexpected,
		Message:       "Внутренняя ошибка сервера",
		CorrelationID: uuid.New().String(),
		Err:           err,
	}
}

// From приводит любую ошибку к *Error; неизвестные ошибки становятся Unexpected
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	var qErr *quantity.Error
	if errors.As(err, &qErr) {
		return &Error{Kind: KindInvalidQuantity, Message: "Некорректное количество", Details: []string{qErr.Error()}, Err: err}
	}
	return Unexpected(err)
}

// KindOf возвращает тег ошибки (пусто для nil)
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, quantity.ErrInvalid) {
		return KindInvalidQuantity
	}
	return KindUnexpected
}
