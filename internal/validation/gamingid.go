// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	minGamingIDLen = 4
	maxGamingIDLen = 32

	maxPaymentRefLen = 64
)

// IsValidGamingID проверяет корректность игрового идентификатора:
// латинские буквы, цифры и подчёркивание, ограниченная длина.
func IsValidGamingID(id string) bool {
	if len(id) < minGamingIDLen || len(id) > maxGamingIDLen {
		return false
	}

	for _, ch := range id {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}

	return true
}

// IsValidPaymentRef проверяет платёжный идентификатор: непустой, ограниченной
// длины, без управляющих символов. Подлинность идентификатора здесь не
// проверяется — её подтверждает внешняя сверка.
func IsValidPaymentRef(ref string) bool {
	if ref == "" || len(ref) > maxPaymentRefLen {
		return false
	}

	for _, ch := range ref {
		if unicode.IsControl(ch) {
			return false
		}
	}

	return true
}
