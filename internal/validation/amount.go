// Package validation содержит функции валидации входных данных.
package validation

import "math"

// IsValidAmount проверяет, что денежная сумма положительна, конечна
// и не точнее одного цента.
func IsValidAmount(amount float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	if amount <= 0 {
		return false
	}

	cents := amount * 100
	return math.Abs(cents-math.Round(cents)) < 1e-9
}
