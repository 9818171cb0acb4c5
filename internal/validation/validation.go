// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
	"unicode"
)

// IsValidEmail проверяет, что строка является одиночным адресом без отображаемого имени.
func IsValidEmail(email string) bool {
	if email == "" || strings.TrimSpace(email) != email {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".")
}

// IsValidPhoneNumber проверяет мобильный номер в формате 08xx или +628xx, от 10 до 13 цифр.
func IsValidPhoneNumber(phone string) bool {
	var digits string
	switch {
	case strings.HasPrefix(phone, "+62"):
		digits = "0" + phone[3:]
	case strings.HasPrefix(phone, "62"):
		digits = "0" + phone[2:]
	default:
		digits = phone
	}

	if !strings.HasPrefix(digits, "08") {
		return false
	}
	if len(digits) < 10 || len(digits) > 13 {
		return false
	}

	for _, ch := range digits {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidPassword требует не менее 8 символов, хотя бы одну букву и одну цифру.
func IsValidPassword(password string) bool {
	if len(password) < 8 {
		return false
	}

	var letter, digit bool
	for _, ch := range password {
		switch {
		case unicode.IsLetter(ch):
			letter = true
		case unicode.IsDigit(ch):
			digit = true
		}
	}
	return letter && digit
}

// IsValidLineID проверяет идентификатор строки корзины из пути запроса.
func IsValidLineID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, ch := range id {
		if !(unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '-' || ch == '_') {
			return false
		}
	}
	return true
}

// IsValidIdempotencyKey проверяет ключ из заголовка Idempotency-Key: видимые ASCII-символы без пробелов.
func IsValidIdempotencyKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] > '~' {
			return false
		}
	}
	return true
}
