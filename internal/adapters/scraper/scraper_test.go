package scraper

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"silo-bridge/internal/domain"
)

const profileHTML = `<html><body>
<div class="h-card">
  <a class="u-url" href="https://instagram.com/snarfed/">snarfed</a>
  <a class="u-url" href="https://snarfed.org/">site</a>
  <span class="u-uid">420973239</span>
  <span class="p-nickname">snarfed</span>
  <span class="p-name">Ryan B</span>
  <img class="u-photo" src="https://pic.example/me.jpg">
</div>
<div class="h-entry">
  <span class="u-uid">123_456</span>
  <a class="u-url" href="https://instagram.com/p/ABC/">link</a>
  <div class="e-content">hello <b>world</b></div>
  <time class="dt-published" datetime="2024-04-01T08:30:00Z">1 апреля</time>
  <div class="p-comment">
    <span class="u-uid">789</span>
    <div class="e-content">nice</div>
    <div class="p-author h-card"><span class="p-nickname">alice</span></div>
  </div>
  <div class="p-like h-card"><span class="p-nickname">bob</span></div>
</div>
</body></html>`

func newInstagram(t *testing.T) *Scraper {
	t.Helper()
	sel, err := LoadSelectors("")
	if err != nil {
		t.Fatalf("встроенные селекторы: %v", err)
	}
	site, _ := domain.SiteByName("instagram")
	return New(site, sel[DefaultSite])
}

func TestScrapedToActivitiesReadsProfileAndPosts(t *testing.T) {
	s := newInstagram(t)
	activities, actor, err := s.ScrapedToActivities([]byte(profileHTML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor == nil {
		t.Fatalf("профиль не найден")
	}
	want := domain.Actor{
		ID:          "tag:instagram.com,2013:420973239",
		Username:    "snarfed",
		DisplayName: "Ryan B",
		Image:       "https://pic.example/me.jpg",
		URL:         "https://instagram.com/snarfed/",
		URLs:        []string{"https://instagram.com/snarfed/", "https://snarfed.org/"},
		Public:      true,
	}
	if diff := cmp.Diff(want, *actor); diff != "" {
		t.Fatalf("actor mismatch (-want +got):\n%s", diff)
	}

	if len(activities) != 1 {
		t.Fatalf("ожидалась одна активность, получено %d", len(activities))
	}
	a := activities[0]
	if a.ID() != "tag:instagram.com,2013:123_456" {
		t.Fatalf("id = %q", a.ID())
	}
	obj := a.Map("object")
	if got := obj.Str("content"); got != "hello <b>world</b>" {
		t.Fatalf("content = %q", got)
	}
	if got := obj.Str("published"); got != "2024-04-01T08:30:00Z" {
		t.Fatalf("published = %q", got)
	}
	if got := obj.Map("author").Str("username"); got != "snarfed" {
		t.Fatalf("автор поста = %q, ожидался владелец страницы", got)
	}
}

func TestScrapedToActivityBuildsRepliesAndLikes(t *testing.T) {
	s := newInstagram(t)
	activity, actor, err := s.ScrapedToActivity([]byte(profileHTML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor == nil || actor.Username != "snarfed" {
		t.Fatalf("actor = %+v", actor)
	}

	replies := activity.Map("object").Map("replies")
	items := replies.List("items")
	if len(items) != 1 {
		t.Fatalf("ожидался один ответ, получено %d", len(items))
	}
	reply := items[0]
	if reply.ID() != "tag:instagram.com,2013:789" || reply.Str("objectType") != "comment" {
		t.Fatalf("reply = %v", reply)
	}
	if got := reply.Map("author").Str("username"); got != "alice" {
		t.Fatalf("автор ответа = %q", got)
	}
	if got := reply.List("inReplyTo"); len(got) != 1 || got[0].ID() != activity.ID() {
		t.Fatalf("inReplyTo = %v", got)
	}
	if replies["totalItems"] != 1 {
		t.Fatalf("totalItems = %v", replies["totalItems"])
	}

	tags := activity.Map("object").List("tags")
	if len(tags) != 1 {
		t.Fatalf("ожидался один лайк, получено %d", len(tags))
	}
	if got := tags[0].ID(); got != "tag:instagram.com,2013:123_456_liked_by_bob" {
		t.Fatalf("like id = %q", got)
	}
	if got := tags[0].Str("url"); got != "https://instagram.com/p/ABC/#liked-by-bob" {
		t.Fatalf("like url = %q", got)
	}
}

func TestScrapedToActivityWithoutEntry(t *testing.T) {
	s := newInstagram(t)
	activity, actor, err := s.ScrapedToActivity([]byte(`<div class="h-card"><span class="p-nickname">x</span></div>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if activity != nil {
		t.Fatalf("ожидался nil, получено %v", activity)
	}
	if actor == nil || actor.Username != "x" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestScrapedToActorPrivate(t *testing.T) {
	s := newInstagram(t)
	actor, err := s.ScrapedToActor([]byte(`<div class="h-card"><span class="p-nickname">p</span><span class="p-private"></span></div>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor == nil || actor.Public {
		t.Fatalf("ожидался приватный профиль, получено %+v", actor)
	}
}

func TestJSONPassthrough(t *testing.T) {
	s := newInstagram(t)
	activity, actor, err := s.ScrapedToActivity([]byte(`  {"id":"tag:instagram.com,2013:1","object":{"author":{"id":"tag:instagram.com,2013:9","username":"x"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if activity.ID() != "tag:instagram.com,2013:1" {
		t.Fatalf("id = %q", activity.ID())
	}
	if actor == nil || actor.Username != "x" {
		t.Fatalf("actor = %+v", actor)
	}

	activities, actor, err := s.ScrapedToActivities([]byte(`{"actor":{"username":"y"},"items":[{"id":"a"},{"id":"b"},3]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(activities) != 2 || actor == nil || actor.Username != "y" {
		t.Fatalf("activities = %v, actor = %+v", activities, actor)
	}

	if _, _, err := s.ScrapedToActivities([]byte(`{"items":`)); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("ожидалась ErrMalformedInput, получено %v", err)
	}
}

func TestScrapedToReactions(t *testing.T) {
	s := newInstagram(t)
	activity := domain.Object{"id": "tag:instagram.com,2013:123_456", "url": "https://instagram.com/p/ABC/"}

	got, err := s.ScrapedToReactions([]byte(`[
		{"id":"tag:instagram.com,2013:123_456_liked_by_zed","verb":"like"},
		{"id":"tag:instagram.com,2013:carol","username":"carol"},
		{"displayName":"без имени"}
	]`), activity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID())
	}
	want := []string{
		"tag:instagram.com,2013:123_456_liked_by_zed",
		"tag:instagram.com,2013:123_456_liked_by_carol",
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("reactions mismatch (-want +got):\n%s", diff)
	}
	if activity["tags"] != nil {
		t.Fatalf("активность не должна меняться")
	}

	got, err = s.ScrapedToReactions([]byte(`<ul><li class="p-like h-card"><span class="p-nickname">dan</span></li></ul>`), activity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Map("author").Str("username") != "dan" {
		t.Fatalf("reactions = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	sel, err := LoadSelectors("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := NewRegistry(domain.Sites(), sel)

	instagram, _ := domain.SiteByName("instagram")
	if _, err := r.ScraperFor(instagram); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twitter, _ := domain.SiteByName("twitter")
	if _, err := r.ScraperFor(twitter); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound для сайта без расширения, получено %v", err)
	}
}

func TestParseSelectors(t *testing.T) {
	if _, err := ParseSelectors([]byte("instagram:\n  card:\n    root: .x\n  entry:\n    root: .y\n")); err == nil {
		t.Fatalf("ожидалась ошибка без секции default")
	}
	if _, err := ParseSelectors([]byte("default:\n  card:\n    root: .x\n")); err == nil {
		t.Fatalf("ожидалась ошибка без entry.root")
	}
	got, err := ParseSelectors([]byte("default:\n  card:\n    root: .x\n  entry:\n    root: .y\n  like: .l\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[DefaultSite].Like != ".l" {
		t.Fatalf("like = %q", got[DefaultSite].Like)
	}
}
