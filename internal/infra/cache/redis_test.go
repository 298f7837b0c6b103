package cache

import (
	"testing"
	"time"
)

func TestKeyTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	tests := []struct {
		name    string
		expires *time.Time
		want    time.Duration
	}{
		{name: "бессрочная", expires: nil, want: 0},
		{name: "в будущем", expires: at(5 * time.Minute), want: 5*time.Minute + time.Second},
		{name: "ttl=0", expires: at(0), want: time.Second},
		{name: "уже истекла", expires: at(-time.Hour), want: time.Second},
		{name: "меньше секунды", expires: at(300 * time.Millisecond), want: 1300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keyTTL(tt.expires, now); got != tt.want {
				t.Fatalf("keyTTL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewRedisPageStoreDefaultPrefix(t *testing.T) {
	if s := NewRedisPageStore(nil, ""); s.prefix != defaultPrefix {
		t.Fatalf("prefix = %q", s.prefix)
	}
	if s := NewRedisPageStore(nil, "bridge:"); s.prefix != "bridge:" {
		t.Fatalf("prefix = %q", s.prefix)
	}
}
