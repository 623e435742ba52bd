package service

import (
	"strings"
	"unicode/utf8"

	"webgrave/internal/util"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxNameLength     = 100
)

func validateEmail(email string) error {
	if !util.ValidEmail(email) {
		return invalidInput("a valid email address is required")
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength {
		return invalidInput("password must be at least 8 characters")
	}
	if n > maxPasswordLength {
		return invalidInput("password is too long")
	}
	return nil
}

func cleanName(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", invalidInput(field + " is required")
	case utf8.RuneCountInString(value) > maxNameLength:
		return "", invalidInput(field + " is too long")
	case util.ContainsSuspicious(value):
		return "", invalidInput(field + " contains invalid characters")
	}
	return value, nil
}
