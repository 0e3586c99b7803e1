// Package validation содержит функции валидации пользовательского ввода.
package validation

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBlank возвращается для пустого обязательного текстового поля.
var ErrBlank = errors.New("blank input")

// ErrNotANumber возвращается, если строка не является числом.
var ErrNotANumber = errors.New("not a number")

// ErrNotPositive возвращается для суммы, не являющейся строго положительной.
var ErrNotPositive = errors.New("amount must be positive")

// ParseAmount разбирает сумму с десятичной запятой или точкой.
// Запятая нормализуется в точку до разбора; сумма должна быть строго больше нуля.
func ParseAmount(s string) (float64, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if raw == "" {
		return 0, ErrBlank
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	if v <= 0 {
		return 0, ErrNotPositive
	}
	return v, nil
}

// ParsePercent разбирает процент. Верхняя граница намеренно не проверяется:
// проценты выше 100 допускаются как бонусные множители.
func ParsePercent(s string) (float64, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if raw == "" {
		return 0, ErrBlank
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	return v, nil
}

// NormalizeName обрезает окружающие пробелы и отклоняет пустое имя.
// Регистр и внутренние пробелы сохраняются: сопоставление клиентов точное.
func NormalizeName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", ErrBlank
	}
	return name, nil
}
