// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const maxSessionIDLength = 255

var sessionIDPrefixes = []string{"cs_test_", "cs_live_"}

// IsValidSessionID проверяет, что идентификатор похож на идентификатор сессии оплаты Stripe.
func IsValidSessionID(id string) bool {
	if len(id) > maxSessionIDLength {
		return false
	}

	var rest string
	for _, p := range sessionIDPrefixes {
		if strings.HasPrefix(id, p) {
			rest = id[len(p):]
			break
		}
	}
	if rest == "" {
		return false
	}

	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}

	return true
}

// IsValidProductID проверяет идентификатор товара каталога.
func IsValidProductID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.' {
			continue
		}
		return false
	}
	return true
}
