package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedInput возвращается при отсутствии обязательных полей или неверном формате.
	ErrMalformedInput = errors.New("malformed input")
	// ErrAuthorizationDenied возвращается, если вызывающий не может действовать от имени аккаунта.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrNotFound возвращается для неизвестных аккаунтов, активностей и токенов.
	ErrNotFound = errors.New("not found")
	// ErrFetchRefused возвращается, если удалённый запрос отклонён (размер или блеклист).
	ErrFetchRefused = errors.New("fetch refused")
	// ErrPersistenceConflict возвращается, когда повторы транзакции исчерпаны.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// AuthError описывает отказ в авторизации токена.
type AuthError struct {
	Token   string
	Domains []string
	Reason  string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	domains := append([]string(nil), e.Domains...)
	sort.Strings(domains)
	return fmt.Sprintf("token %s is not authorized for any of: [%s]", e.Token, strings.Join(domains, " "))
}

// Unwrap позволяет сравнивать через errors.Is.
func (e *AuthError) Unwrap() error {
	return ErrAuthorizationDenied
}

// Malformed оборачивает сообщение в ErrMalformedInput.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// NotFound оборачивает сообщение в ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
