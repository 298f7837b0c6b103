package domain

import "testing"

func TestIsPublic(t *testing.T) {
	tests := []struct {
		name string
		obj  Object
		want bool
	}{
		{name: "no audience", obj: Object{"id": "x"}, want: true},
		{name: "public", obj: Object{"to": []any{map[string]any{"objectType": "group", "alias": "@public"}}}, want: true},
		{name: "private", obj: Object{"to": []any{map[string]any{"objectType": "group", "alias": "@private"}}}, want: false},
		{name: "inner object", obj: Object{"object": map[string]any{"to": []any{map[string]any{"alias": "@private"}}}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPublic(tt.obj); got != tt.want {
				t.Fatalf("IsPublic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActorFromObject(t *testing.T) {
	obj := Object{
		"id":          "tag:instagram.com,2013:42",
		"username":    "snarfed",
		"displayName": "Ryan",
		"image":       map[string]any{"url": "https://pic"},
		"url":         "https://snarfed.org/",
		"urls": []any{
			map[string]any{"value": "https://snarfed.org/"},
			map[string]any{"value": "https://brid.gy/"},
		},
	}
	actor, ok := ActorFromObject(obj)
	if !ok {
		t.Fatal("ожидали актора")
	}
	if actor.Username != "snarfed" || actor.Image != "https://pic" || !actor.Public {
		t.Fatalf("неожиданный актор: %+v", actor)
	}
	urls := actor.ProfileURLs()
	if len(urls) != 2 || urls[0] != "https://snarfed.org/" || urls[1] != "https://brid.gy/" {
		t.Fatalf("ожидали два URL без повторов, получили %v", urls)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"object": map[string]any{"replies": map[string]any{"items": []any{map[string]any{"id": "1"}}}}}
	cp := orig.Clone()
	cp.Map("object").Map("replies").List("items")[0]["id"] = "2"
	if orig.Map("object").Map("replies").List("items")[0].ID() != "1" {
		t.Fatal("копия не должна менять оригинал")
	}
}
