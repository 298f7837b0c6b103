package domain

import "testing"

func TestDomainFromLink(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{name: "plain", link: "https://Example.com/about", want: "example.com"},
		{name: "www", link: "http://www.example.com", want: "example.com"},
		{name: "mobile", link: "https://m.facebook.com/foo", want: "facebook.com"},
		{name: "no scheme", link: "snarfed.org/post", want: "snarfed.org"},
		{name: "subdomain kept", link: "https://blog.example.com", want: "blog.example.com"},
		{name: "empty", link: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DomainFromLink(tt.link); got != tt.want {
				t.Fatalf("DomainFromLink(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestTagURIRoundTrip(t *testing.T) {
	uri := TagURI("instagram.com", "123_456")
	if uri != "tag:instagram.com,2013:123_456" {
		t.Fatalf("неожиданный tag URI: %s", uri)
	}
	domain, id, ok := ParseTagURI(uri)
	if !ok || domain != "instagram.com" || id != "123_456" {
		t.Fatalf("не удалось разобрать %s: %s %s %v", uri, domain, id, ok)
	}
	if _, _, ok := ParseTagURI("https://instagram.com/p/123"); ok {
		t.Fatal("ожидали отказ для обычного URL")
	}
}

func TestAccountKeyRoundTrip(t *testing.T) {
	key := AccountKey{Site: "instagram", ID: "snarfed"}
	parsed, err := ParseAccountKey(key.String())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if parsed != key {
		t.Fatalf("ожидали %v, получили %v", key, parsed)
	}
	if _, err := ParseAccountKey("nokey"); err == nil {
		t.Fatal("ожидали ошибку для ключа без сайта")
	}
}
