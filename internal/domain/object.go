package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Object представляет произвольный ActivityStreams 1.0 объект в JSON-форме.
// Неизвестные поля сохраняются как есть.
type Object map[string]any

// ParseObject разбирает JSON объект.
func ParseObject(raw []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode object: %v", ErrMalformedInput, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: object is null", ErrMalformedInput)
	}
	return obj, nil
}

// ID возвращает строковое поле id.
func (o Object) ID() string {
	id, _ := IDOf(o)
	return id
}

// Str возвращает строковое поле.
func (o Object) Str(key string) string {
	s, _ := o[key].(string)
	return s
}

// Map возвращает вложенный объект или nil.
func (o Object) Map(key string) Object {
	return AsObject(o[key])
}

// List возвращает вложенный список объектов, пропуская не-объекты.
func (o Object) List(key string) []Object {
	raw, ok := o[key].([]any)
	if !ok {
		if typed, ok := o[key].([]Object); ok {
			return typed
		}
		return nil
	}
	out := make([]Object, 0, len(raw))
	for _, item := range raw {
		if obj := AsObject(item); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// Clone делает глубокую копию объекта.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return cloneValue(map[string]any(o)).(Object)
}

// AsObject приводит значение к Object.
func AsObject(v any) Object {
	switch t := v.(type) {
	case Object:
		return t
	case map[string]any:
		return Object(t)
	}
	return nil
}

// IDOf возвращает id объекта. Числовые id приводятся к строке.
func IDOf(o Object) (string, bool) {
	switch id := o["id"].(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	}
	return "", false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Object:
		out := make(Object, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]any:
		out := make(Object, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []Object:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	}
	return v
}

// IsPublic сообщает, публичен ли объект. Объект без адресатов считается публичным.
func IsPublic(o Object) bool {
	to := o.List("to")
	if len(to) == 0 {
		if inner := o.Map("object"); inner != nil {
			to = inner.List("to")
		}
	}
	if len(to) == 0 {
		return true
	}
	for _, t := range to {
		switch t.Str("alias") {
		case "@public", "@unlisted":
			return true
		}
	}
	return false
}

// ActorFromObject строит Actor из ActivityStreams объекта автора.
func ActorFromObject(o Object) (Actor, bool) {
	if o == nil {
		return Actor{}, false
	}
	actor := Actor{
		ID:          o.ID(),
		Username:    o.Str("username"),
		DisplayName: o.Str("displayName"),
		URL:         o.Str("url"),
		Public:      IsPublic(o),
	}
	switch img := o["image"].(type) {
	case string:
		actor.Image = img
	default:
		if m := AsObject(img); m != nil {
			actor.Image = m.Str("url")
		} else if list, ok := img.([]any); ok && len(list) > 0 {
			if first := AsObject(list[0]); first != nil {
				actor.Image = first.Str("url")
			}
		}
	}
	for _, u := range o.List("urls") {
		if v := u.Str("value"); v != "" {
			actor.URLs = append(actor.URLs, v)
		}
	}
	return actor, true
}
