package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Fetch.MaxSize != 5000000 {
		t.Fatalf("MAX_HTTP_RESPONSE_SIZE = %d", cfg.Fetch.MaxSize)
	}
	if cfg.PageCache.UsersTTL != 5*time.Minute {
		t.Fatalf("USERS_PAGE_TTL = %s", cfg.PageCache.UsersTTL)
	}
	if cfg.Queue.Backend != QueueRedis || cfg.PageCache.Backend != PageCacheStore {
		t.Fatalf("unexpected backends: %+v %+v", cfg.Queue, cfg.PageCache)
	}
}

func TestParseReadsNestedKeys(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("URL_BLACKLIST", "http://a.example/x,http://b.example/y")
	t.Setenv("TG_ADMIN_CHAT_ID", "-100")
	t.Setenv("NOTIFY_EMAIL_TO", "a@example.com,b@example.com")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Fetch.URLBlacklist) != 2 || cfg.Telegram.AdminChatID != -100 || len(cfg.SMTP.To) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseValidatesBackends(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres без DSN":  {"STORE_BACKEND": "postgres", "PG_DSN": ""},
		"неизвестный store": {"STORE_BACKEND": "sqlite"},
		"rabbitmq без URL":  {"STORE_BACKEND": "memory", "QUEUE_BACKEND": "rabbitmq", "RABBITMQ_URL": ""},
		"неизвестный кэш":   {"STORE_BACKEND": "memory", "PAGE_CACHE_BACKEND": "memcached"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Parse(); err == nil {
				t.Fatalf("ожидалась ошибка")
			}
		})
	}
}

func TestLoadBlacklist(t *testing.T) {
	var cfg AppConfig
	cfg.Fetch.URLBlacklist = []string{"http://www.evdemon.org/2015/learning-more-about-quill"}

	bl, err := cfg.LoadBlacklist()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bl.ContainsDomain("instagram.com") || !bl.ContainsDomain("www.facebook.com") {
		t.Fatalf("встроенный список должен содержать сети")
	}
	if !bl.ContainsURL("http://www.evdemon.org/2015/learning-more-about-quill") {
		t.Fatalf("URL_BLACKLIST не применён")
	}

	path := filepath.Join(t.TempDir(), "blacklist.txt")
	if err := os.WriteFile(path, []byte("# свой список\nexample.org\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Fetch.BlacklistFile = path
	bl, err = cfg.LoadBlacklist()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bl.ContainsDomain("instagram.com") || !bl.ContainsDomain("blog.example.org") {
		t.Fatalf("BLACKLIST_FILE должен заменять встроенный список")
	}
}
