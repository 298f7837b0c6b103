package lifecycle

import (
	"bytes"
	"encoding/json"
	"strings"

	"silo-bridge/internal/domain"
)

// Операции дескриптора.
const (
	OperationAdd    = "add"
	OperationDelete = "delete"
)

// Descriptor передаётся через внешний OAuth-провайдер в параметре state
// и возвращается в колбэке без изменений.
type Descriptor struct {
	Operation string
	// Feature: список возможностей через запятую, например "listen,publish".
	Feature  string
	Callback string
	UserURL  string
	// Source: ключ аккаунта, для удаления.
	Source string
	ID     string
	// Extra хранит неизвестные поля, чтобы они пережили round-trip.
	Extra map[string]any
}

var knownFields = []string{"operation", "feature", "callback", "user_url", "source", "id"}

// Features возвращает возможности из поля Feature.
func (d Descriptor) Features() []string {
	var out []string
	for _, f := range strings.Split(d.Feature, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// OperationOrDefault возвращает операцию; пустая операция означает add.
func (d Descriptor) OperationOrDefault() string {
	if d.Operation == "" {
		return OperationAdd
	}
	return d.Operation
}

func (d Descriptor) fields() map[string]string {
	return map[string]string{
		"operation": d.Operation,
		"feature":   d.Feature,
		"callback":  d.Callback,
		"user_url":  d.UserURL,
		"source":    d.Source,
		"id":        d.ID,
	}
}

// Encode сериализует дескриптор в компактный JSON с отсортированными ключами.
// Пустые значения опускаются.
func (d Descriptor) Encode() (string, error) {
	obj := make(map[string]any, len(d.Extra)+len(knownFields))
	for k, v := range d.Extra {
		if !isEmpty(v) {
			obj[k] = v
		}
	}
	for k, v := range d.fields() {
		if v != "" {
			obj[k] = v
		} else {
			delete(obj, k)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeDescriptor разбирает state. Пустая строка даёт пустой дескриптор.
func DecodeDescriptor(state string) (Descriptor, error) {
	if strings.TrimSpace(state) == "" {
		return Descriptor{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(state))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Descriptor{}, domain.Malformed("state parameter is not a JSON object: %s", state)
	}

	var d Descriptor
	targets := map[string]*string{
		"operation": &d.Operation,
		"feature":   &d.Feature,
		"callback":  &d.Callback,
		"user_url":  &d.UserURL,
		"source":    &d.Source,
		"id":        &d.ID,
	}
	for k, v := range obj {
		target, known := targets[k]
		if !known {
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = v
			continue
		}
		switch val := v.(type) {
		case string:
			*target = val
		case nil:
		default:
			return Descriptor{}, domain.Malformed("state field %s must be a string", k)
		}
	}
	return d, nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
