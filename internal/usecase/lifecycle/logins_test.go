package lifecycle

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"silo-bridge/internal/domain"
)

func TestLoginsRoundTrip(t *testing.T) {
	logins := []domain.Login{
		{Path: "/instagram/snarfed", Site: "instagram", Name: "Ryan | B?"},
		{Path: "/facebook/123", Site: "facebook", Name: "Ryan Barrett"},
		{Path: "/instagram/snarfed", Site: "instagram", Name: "Ryan | B?"},
	}
	encoded := EncodeLogins(logins)
	got := DecodeLogins(encoded)
	want := []domain.Login{
		{Path: "/facebook/123", Site: "facebook", Name: "Ryan Barrett"},
		{Path: "/instagram/snarfed", Site: "instagram", Name: "Ryan | B?"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("неожиданные записи (-want +got):\n%s", diff)
	}
	if EncodeLogins(got) != encoded {
		t.Fatal("повторное кодирование должно совпадать")
	}
}

func TestDecodeLoginsSkipsBrokenEntries(t *testing.T) {
	got := DecodeLogins("noquestionmark|%2Finstagram%2Fx?X|%zz?bad|%2F?root")
	want := []domain.Login{{Path: "/instagram/x", Site: "instagram", Name: "X"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("неожиданные записи (-want +got):\n%s", diff)
	}
}

func TestAddLoginReplacesSamePath(t *testing.T) {
	got := AddLogin([]domain.Login{{Path: "/instagram/x", Site: "instagram", Name: "old"}}, domain.Login{Path: "/instagram/x", Site: "instagram", Name: "new"})
	if len(got) != 1 || got[0].Name != "new" {
		t.Fatalf("неожиданные записи: %+v", got)
	}
}

func TestLoginsCookieAndRequest(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cookie := LoginsCookie([]domain.Login{{Path: "/instagram/x", Site: "instagram", Name: "X Y"}}, now)
	if cookie.Path != "/" || !cookie.Expires.Equal(now.Add(2*365*24*time.Hour)) {
		t.Fatalf("неожиданная cookie: %+v", cookie)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookie)
	got := LoginsFromRequest(req)
	if len(got) != 1 || got[0].Name != "X Y" || got[0].Site != "instagram" {
		t.Fatalf("неожиданные записи: %+v", got)
	}
}
