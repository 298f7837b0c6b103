package merge

import (
	"encoding/json"
	"sort"

	"silo-bridge/internal/domain"
)

// reactionVerbs: глаголы тегов, которые считаются реакциями.
var reactionVerbs = map[string]struct{}{
	"like":  {},
	"react": {},
}

// IsReaction сообщает, является ли тег реакцией.
func IsReaction(tag domain.Object) bool {
	_, ok := reactionVerbs[tag.Str("verb")]
	return ok
}

// Activity сливает свежую активность с сохранённой.
//
// Если existing == nil, incoming возвращается без изменений. Иначе за основу берётся
// глубокая копия incoming, а object.replies.items сливаются по id: элементы existing
// сохраняются, при совпадении id побеждает incoming, totalItems пересчитывается.
// Теги incoming остаются в своём порядке, сохранённые реакции, которых в incoming
// нет, дописываются в конец по id.
func Activity(existing, incoming domain.Object) (domain.Object, error) {
	if incoming == nil {
		return nil, domain.Malformed("scraped post is empty")
	}
	if _, ok := domain.IDOf(incoming); !ok {
		return nil, domain.Malformed("scraped post missing id")
	}
	if existing == nil {
		return incoming, nil
	}

	merged := incoming.Clone()
	oldObj := existing.Map("object")
	newObj := merged.Map("object")

	oldReplies := oldObj.Map("replies").List("items")
	newReplies := newObj.Map("replies").List("items")
	if len(oldReplies) > 0 || len(newReplies) > 0 {
		newObj = ensureObject(merged, "object")
		replies := ensureObject(newObj, "replies")
		items := ByID(oldReplies, newReplies)
		replies["items"] = toAny(items)
		replies["totalItems"] = len(items)
	}

	oldReactions := filterTags(oldObj.List("tags"), true)
	if len(oldReactions) > 0 {
		newObj = ensureObject(merged, "object")
		newObj["tags"] = toAny(overlay(newObj.List("tags"), oldReactions, false))
	}

	return merged, nil
}

// Reactions сливает реакции в копию активности и возвращает её вместе
// с полным обновлённым списком реакций.
func Reactions(activity domain.Object, reactions []domain.Object) (domain.Object, []domain.Object, error) {
	if activity == nil {
		return nil, nil, domain.Malformed("activity is empty")
	}
	for _, r := range reactions {
		if _, ok := domain.IDOf(r); !ok {
			return nil, nil, domain.Malformed("reaction missing id")
		}
	}
	updated := activity.Clone()
	obj := ensureObject(updated, "object")
	tags := obj.List("tags")
	merged := ByID(filterTags(tags, true), reactions)
	obj["tags"] = toAny(overlay(tags, reactions, true))
	return updated, merged, nil
}

// ByID сливает два списка объектов по id.
//
// Результат содержит объединение обоих списков, где при совпадении id побеждает
// элемент из updates, и упорядочен по id. Элементы без id не могут быть
// дедуплицированы по ключу: они сохраняются после остальных, повторы по
// содержимому удаляются.
func ByID(existing, updates []domain.Object) []domain.Object {
	m := newOrderedMap(len(existing) + len(updates))
	for _, o := range existing {
		m.put(o)
	}
	for _, o := range updates {
		m.put(o)
	}
	return m.sorted()
}

type orderedMap struct {
	keys      []string
	items     map[string]domain.Object
	anonymous []domain.Object
	seenAnon  map[string]struct{}
}

func newOrderedMap(capacity int) *orderedMap {
	return &orderedMap{
		items:    make(map[string]domain.Object, capacity),
		seenAnon: make(map[string]struct{}),
	}
}

func (m *orderedMap) put(o domain.Object) {
	id, ok := domain.IDOf(o)
	if !ok {
		raw, err := json.Marshal(o)
		if err == nil {
			if _, dup := m.seenAnon[string(raw)]; dup {
				return
			}
			m.seenAnon[string(raw)] = struct{}{}
		}
		m.anonymous = append(m.anonymous, o)
		return
	}
	if _, exists := m.items[id]; !exists {
		m.keys = append(m.keys, id)
	}
	m.items[id] = o
}

func (m *orderedMap) sorted() []domain.Object {
	keys := append([]string(nil), m.keys...)
	sort.Strings(keys)
	out := make([]domain.Object, 0, len(keys)+len(m.anonymous))
	for _, k := range keys {
		out = append(out, m.items[k])
	}
	return append(out, m.anonymous...)
}

// overlay сохраняет порядок base. Элементы extra с ключом, которого в base нет,
// дописываются в конец в порядке ByID. При replace совпавшие по ключу элементы
// base заменяются элементами extra, иначе остаются как есть.
func overlay(base, extra []domain.Object, replace bool) []domain.Object {
	byKey := make(map[string]domain.Object, len(extra))
	for _, o := range extra {
		byKey[itemKey(o)] = o
	}
	out := make([]domain.Object, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base))
	for _, o := range base {
		key := itemKey(o)
		seen[key] = struct{}{}
		if e, ok := byKey[key]; ok && replace {
			o = e
		}
		out = append(out, o)
	}
	var rest []domain.Object
	for _, o := range extra {
		if _, ok := seen[itemKey(o)]; !ok {
			rest = append(rest, o)
		}
	}
	return append(out, ByID(nil, rest)...)
}

// itemKey: id элемента, для элементов без id их JSON.
func itemKey(o domain.Object) string {
	if id, ok := domain.IDOf(o); ok {
		return "id:" + id
	}
	raw, _ := json.Marshal(o)
	return "json:" + string(raw)
}

func filterTags(tags []domain.Object, reactions bool) []domain.Object {
	var out []domain.Object
	for _, t := range tags {
		if IsReaction(t) == reactions {
			out = append(out, t)
		}
	}
	return out
}

func ensureObject(parent domain.Object, key string) domain.Object {
	if child := parent.Map(key); child != nil {
		parent[key] = child
		return child
	}
	child := domain.Object{}
	parent[key] = child
	return child
}

func toAny(items []domain.Object) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
