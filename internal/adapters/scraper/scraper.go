package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"silo-bridge/internal/domain"
)

// Scraper переводит microformats2-разметку или готовый JSON в активности.
type Scraper struct {
	site domain.Site
	sel  Selectors
}

var _ domain.Scraper = (*Scraper)(nil)

// New создаёт скрапер сайта.
func New(site domain.Site, sel Selectors) *Scraper {
	return &Scraper{site: site, sel: sel}
}

// Registry выдаёт скраперы сайтов, данные которых приходят из браузера.
type Registry struct {
	scrapers map[string]*Scraper
}

var _ domain.ScraperRegistry = (*Registry)(nil)

// NewRegistry создаёт скраперы для всех сайтов с Browser == true.
func NewRegistry(sites []domain.Site, selectors map[string]Selectors) *Registry {
	r := &Registry{scrapers: make(map[string]*Scraper)}
	for _, site := range sites {
		if !site.Browser {
			continue
		}
		sel, ok := selectors[site.ShortName]
		if !ok {
			sel = selectors[DefaultSite]
		}
		r.scrapers[site.ShortName] = New(site, sel)
	}
	return r
}

// ScraperFor реализует domain.ScraperRegistry.
func (r *Registry) ScraperFor(site domain.Site) (domain.Scraper, error) {
	s, ok := r.scrapers[site.ShortName]
	if !ok {
		return nil, domain.NotFound("%s does not accept browser extension data", site.Name)
	}
	return s, nil
}

func isJSON(markup []byte) bool {
	trimmed := bytes.TrimSpace(markup)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func (s *Scraper) parse(markup []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, domain.Malformed("unparseable %s markup: %v", s.site.Name, err)
	}
	return doc, nil
}

func decodeJSON(markup []byte) (any, error) {
	var v any
	if err := json.Unmarshal(markup, &v); err != nil {
		return nil, domain.Malformed("invalid JSON: %v", err)
	}
	return v, nil
}

func objects(v any) []domain.Object {
	list, _ := v.([]any)
	out := make([]domain.Object, 0, len(list))
	for _, item := range list {
		if o := domain.AsObject(item); o != nil {
			out = append(out, o)
		}
	}
	return out
}

func toActor(o domain.Object) *domain.Actor {
	actor, ok := domain.ActorFromObject(o)
	if !ok {
		return nil
	}
	return &actor
}

// ScrapedToActivities реализует domain.Scraper.
func (s *Scraper) ScrapedToActivities(markup []byte) ([]domain.Object, *domain.Actor, error) {
	if isJSON(markup) {
		v, err := decodeJSON(markup)
		if err != nil {
			return nil, nil, err
		}
		if obj := domain.AsObject(v); obj != nil {
			return objects(obj["items"]), toActor(obj.Map("actor")), nil
		}
		return objects(v), nil, nil
	}

	doc, err := s.parse(markup)
	if err != nil {
		return nil, nil, err
	}
	pageActor := s.pageCard(doc)
	var activities []domain.Object
	s.topLevel(doc.Selection, s.sel.Entry.Root).Each(func(_ int, entry *goquery.Selection) {
		activities = append(activities, s.entryActivity(entry, pageActor))
	})
	return activities, toActor(pageActor), nil
}

// ScrapedToActor реализует domain.Scraper.
func (s *Scraper) ScrapedToActor(markup []byte) (*domain.Actor, error) {
	if isJSON(markup) {
		v, err := decodeJSON(markup)
		if err != nil {
			return nil, err
		}
		return toActor(domain.AsObject(v)), nil
	}
	doc, err := s.parse(markup)
	if err != nil {
		return nil, err
	}
	return toActor(s.pageCard(doc)), nil
}

// ScrapedToActivity реализует domain.Scraper.
func (s *Scraper) ScrapedToActivity(markup []byte) (domain.Object, *domain.Actor, error) {
	if isJSON(markup) {
		v, err := decodeJSON(markup)
		if err != nil {
			return nil, nil, err
		}
		activity := domain.AsObject(v)
		if activity == nil {
			return nil, nil, nil
		}
		author := activity.Map("actor")
		if author == nil {
			author = activity.Map("object").Map("author")
		}
		return activity, toActor(author), nil
	}

	doc, err := s.parse(markup)
	if err != nil {
		return nil, nil, err
	}
	pageActor := s.pageCard(doc)
	entry := s.topLevel(doc.Selection, s.sel.Entry.Root).First()
	if entry.Length() == 0 {
		return nil, toActor(pageActor), nil
	}
	activity := s.entryActivity(entry, pageActor)
	author := activity.Map("actor")
	if author == nil {
		author = pageActor
	}
	return activity, toActor(author), nil
}

// ScrapedToReactions реализует domain.Scraper. Возвращает лайки для activity,
// саму активность не меняет.
func (s *Scraper) ScrapedToReactions(markup []byte, activity domain.Object) ([]domain.Object, error) {
	var likers, ready []domain.Object
	if isJSON(markup) {
		v, err := decodeJSON(markup)
		if err != nil {
			return nil, err
		}
		items := objects(v)
		if obj := domain.AsObject(v); obj != nil {
			items = objects(obj["likes"])
			if len(items) == 0 {
				items = objects(obj["items"])
			}
		}
		for _, item := range items {
			if item.Str("verb") != "" {
				ready = append(ready, item)
			} else {
				likers = append(likers, item)
			}
		}
	} else {
		doc, err := s.parse(markup)
		if err != nil {
			return nil, err
		}
		doc.Find(s.sel.Like).Each(func(_ int, like *goquery.Selection) {
			likers = append(likers, s.cardObject(s.cardIn(like)))
		})
	}

	out := ready
	for _, liker := range likers {
		if r := s.like(activity, liker); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// pageCard возвращает профиль страницы: первую карточку вне постов.
func (s *Scraper) pageCard(doc *goquery.Document) domain.Object {
	card := doc.Find(s.sel.Card.Root).FilterFunction(func(_ int, c *goquery.Selection) bool {
		return c.ParentsFiltered(s.sel.Entry.Root).Length() == 0
	}).First()
	if card.Length() == 0 {
		return nil
	}
	return s.cardObject(card)
}

// cardIn возвращает саму выборку, если она карточка, иначе первую вложенную карточку.
func (s *Scraper) cardIn(sel *goquery.Selection) *goquery.Selection {
	if sel.Is(s.sel.Card.Root) {
		return sel
	}
	if inner := sel.Find(s.sel.Card.Root).First(); inner.Length() > 0 {
		return inner
	}
	return sel
}

func (s *Scraper) topLevel(root *goquery.Selection, selector string) *goquery.Selection {
	return root.Find(selector).FilterFunction(func(_ int, e *goquery.Selection) bool {
		return e.ParentsFiltered(selector).Length() == 0
	})
}

// field ищет первое совпадение внутри root, не заходя в вложенные блоки exclude.
func field(root *goquery.Selection, selector string, exclude ...string) *goquery.Selection {
	if selector == "" {
		return &goquery.Selection{}
	}
	return root.Find(selector).FilterFunction(func(_ int, f *goquery.Selection) bool {
		parents := f.ParentsUntilSelection(root)
		for _, ex := range exclude {
			if ex == "" {
				continue
			}
			if f.Is(ex) || parents.Filter(ex).Length() > 0 {
				return false
			}
		}
		return true
	}).First()
}

func text(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	if v, ok := sel.Attr("value"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}

func link(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"href", "src", "value"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(sel.Text())
}

func datetime(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	if v, ok := sel.Attr("datetime"); ok {
		return strings.TrimSpace(v)
	}
	return text(sel)
}

func setIf(o domain.Object, key, value string) {
	if value != "" {
		o[key] = value
	}
}

func (s *Scraper) cardObject(card *goquery.Selection) domain.Object {
	c := s.sel.Card
	username := text(field(card, c.Username))
	local := text(field(card, c.ID))
	if local == "" {
		local = username
	}

	obj := domain.Object{"objectType": "person"}
	if local != "" {
		obj["id"] = domain.TagURI(s.site.Domain, local)
	}
	setIf(obj, "username", username)
	setIf(obj, "displayName", text(field(card, c.Name)))
	if photo := link(field(card, c.Photo)); photo != "" {
		obj["image"] = map[string]any{"url": photo}
	}

	var urls []any
	if c.URL != "" {
		card.Find(c.URL).Each(func(i int, u *goquery.Selection) {
			href := link(u)
			if href == "" {
				return
			}
			if _, ok := obj["url"]; !ok {
				obj["url"] = href
			}
			urls = append(urls, map[string]any{"value": href})
		})
	}
	if card.Is(c.URL) {
		if href := link(card); href != "" {
			if _, ok := obj["url"]; !ok {
				obj["url"] = href
			}
			urls = append(urls, map[string]any{"value": href})
		}
	}
	if len(urls) > 0 {
		obj["urls"] = urls
	}

	alias := "@public"
	if c.Private != "" && (card.Is(c.Private) || card.Find(c.Private).Length() > 0) {
		alias = "@private"
	}
	obj["to"] = []any{map[string]any{"objectType": "group", "alias": alias}}
	return obj
}

func (s *Scraper) authorOf(entry *goquery.Selection, fallback domain.Object, exclude ...string) domain.Object {
	author := field(entry, s.sel.Entry.Author, exclude...)
	if author.Length() == 0 {
		return fallback
	}
	return s.cardObject(s.cardIn(author))
}

func (s *Scraper) entryActivity(entry *goquery.Selection, pageActor domain.Object) domain.Object {
	e := s.sel.Entry
	nested := []string{s.sel.Comment, s.sel.Like, e.Author}

	obj := domain.Object{"objectType": "note"}
	uid := text(field(entry, e.UID, nested...))
	id := ""
	if uid != "" {
		id = domain.TagURI(s.site.Domain, uid)
		obj["id"] = id
	}
	postURL := link(field(entry, e.URL, nested...))
	setIf(obj, "url", postURL)
	if content := field(entry, e.Content, nested...); content.Length() > 0 {
		html, _ := content.Html()
		setIf(obj, "content", strings.TrimSpace(html))
	}
	setIf(obj, "published", datetime(field(entry, e.Published, nested...)))

	author := s.authorOf(entry, pageActor, s.sel.Comment, s.sel.Like)
	if author != nil {
		obj["author"] = author
	}

	if s.sel.Comment != "" {
		var replies []any
		entry.Find(s.sel.Comment).Each(func(_ int, c *goquery.Selection) {
			replies = append(replies, s.comment(c, id, postURL))
		})
		if len(replies) > 0 {
			obj["replies"] = map[string]any{"items": replies, "totalItems": len(replies)}
		}
	}

	activity := domain.Object{"verb": "post", "object": obj}
	if id != "" {
		activity["id"] = id
	}
	setIf(activity, "url", postURL)
	if author != nil {
		activity["actor"] = author
	}

	if s.sel.Like != "" {
		var tags []any
		entry.Find(s.sel.Like).Each(func(_ int, like *goquery.Selection) {
			if r := s.like(activity, s.cardObject(s.cardIn(like))); r != nil {
				tags = append(tags, map[string]any(r))
			}
		})
		if len(tags) > 0 {
			obj["tags"] = tags
		}
	}
	return activity
}

func (s *Scraper) comment(c *goquery.Selection, postID, postURL string) map[string]any {
	e := s.sel.Entry
	out := domain.Object{"objectType": "comment"}
	if uid := text(field(c, e.UID, e.Author)); uid != "" {
		out["id"] = domain.TagURI(s.site.Domain, uid)
	}
	setIf(out, "url", link(field(c, e.URL, e.Author)))
	if content := field(c, e.Content, e.Author); content.Length() > 0 {
		html, _ := content.Html()
		setIf(out, "content", strings.TrimSpace(html))
	} else {
		setIf(out, "content", text(c))
	}
	setIf(out, "published", datetime(field(c, e.Published, e.Author)))
	if author := s.authorOf(c, nil); author != nil {
		out["author"] = author
	}
	if postID != "" {
		reply := map[string]any{"id": postID}
		if postURL != "" {
			reply["url"] = postURL
		}
		out["inReplyTo"] = []any{reply}
	}
	return out
}

// like строит реакцию liker на activity. Без идентификатора лайкнувшего возвращает nil.
func (s *Scraper) like(activity, liker domain.Object) domain.Object {
	if liker == nil {
		return nil
	}
	likerID := liker.Str("username")
	if _, local, ok := domain.ParseTagURI(liker.ID()); ok {
		likerID = local
	}
	if likerID == "" {
		return nil
	}

	activityID := activity.ID()
	if _, local, ok := domain.ParseTagURI(activityID); ok {
		activityID = local
	}
	postURL := activity.Str("url")
	if postURL == "" {
		postURL = activity.Map("object").Str("url")
	}

	r := domain.Object{
		"id":         domain.TagURI(s.site.Domain, fmt.Sprintf("%s_liked_by_%s", activityID, likerID)),
		"objectType": "activity",
		"verb":       "like",
		"author":     map[string]any(liker),
	}
	if postURL != "" {
		r["url"] = postURL + "#liked-by-" + likerID
		r["object"] = map[string]any{"url": postURL}
	}
	return r
}
