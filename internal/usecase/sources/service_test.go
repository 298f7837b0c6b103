package sources

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"silo-bridge/internal/adapters/memstore"
	"silo-bridge/internal/domain"
)

var instagram, _ = domain.SiteByName("instagram")

type stubResolver struct{}

func (stubResolver) ResolveTarget(_ context.Context, url string) domain.WebmentionTarget {
	resolved := strings.Replace(url, "http://short.link/", "https://resolved.example/", 1)
	return domain.WebmentionTarget{
		URL:    resolved,
		Domain: domain.DomainFromLink(resolved),
		Send:   !strings.Contains(resolved, "image.png"),
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []domain.PollTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task domain.PollTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func newService(t *testing.T, opts ...Option) (*Service, *memstore.Store, *recordingQueue) {
	t.Helper()
	store := memstore.New()
	queue := &recordingQueue{}
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewService(store, stubResolver{}, queue, zerolog.Nop(), opts...), store, queue
}

func TestCreateOrUpdateCreatesAccount(t *testing.T) {
	svc, _, queue := newService(t, WithBlacklist(domain.NewBlacklist([]string{"blocked.com"}, nil)))
	actor := domain.Actor{
		Username:    "snarfed",
		DisplayName: "Ryan",
		Image:       "https://cdn/pic.jpg",
		URL:         "https://www.instagram.com/snarfed/",
		URLs:        []string{"https://snarfed.org/", "http://short.link/x", "https://www.blocked.com/", "https://snarfed.org/image.png"},
		Public:      true,
	}

	account, err := svc.CreateOrUpdate(context.Background(), Request{Site: instagram, Actor: actor})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if account.Key() != (domain.AccountKey{Site: "instagram", ID: "snarfed"}) {
		t.Fatalf("неожиданный ключ: %v", account.Key())
	}
	if diff := cmp.Diff([]string{"https://snarfed.org/", "https://resolved.example/x"}, account.DomainURLs); diff != "" {
		t.Fatalf("неожиданные адреса (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"snarfed.org", "resolved.example"}, account.Domains); diff != "" {
		t.Fatalf("неожиданные домены (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{domain.FeatureListen}, account.Features); diff != "" {
		t.Fatalf("неожиданные возможности (-want +got):\n%s", diff)
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("ожидали одну задачу опроса, получили %d", len(queue.tasks))
	}
	task := queue.tasks[0]
	if task.Queue != domain.PollNowQueueName || task.AccountID != "snarfed" || task.LastPolled != "1970-01-01-00-00-00" || task.ID == "" {
		t.Fatalf("неожиданная задача: %+v", task)
	}
}

func TestCreateOrUpdateUserURLReplacesProfileURLs(t *testing.T) {
	svc, _, _ := newService(t)
	actor := domain.Actor{Username: "snarfed", URLs: []string{"https://snarfed.org/"}}

	account, err := svc.CreateOrUpdate(context.Background(), Request{Site: instagram, Actor: actor, UserURL: "https://other.example/me"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff([]string{"other.example"}, account.Domains); diff != "" {
		t.Fatalf("неожиданные домены (-want +got):\n%s", diff)
	}
}

func TestCreateOrUpdateLimitsAuthorURLs(t *testing.T) {
	svc, _, _ := newService(t)
	var urls []string
	for _, host := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		urls = append(urls, "https://"+host+".example/")
	}
	account, err := svc.CreateOrUpdate(context.Background(), Request{Site: instagram, Actor: domain.Actor{Username: "x", URLs: urls}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(account.DomainURLs) != MaxAuthorURLs {
		t.Fatalf("ожидали %d адресов, получили %d", MaxAuthorURLs, len(account.DomainURLs))
	}
}

func TestCreateOrUpdateMergesExisting(t *testing.T) {
	svc, store, queue := newService(t)
	ctx := context.Background()
	key := domain.AccountKey{Site: "instagram", ID: "snarfed"}
	polled := time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC)
	if _, err := store.UpdateAccount(ctx, key, func(*domain.Account) (domain.Account, error) {
		return domain.Account{
			Name:       "Old",
			Picture:    "https://cdn/old.jpg",
			DomainURLs: []string{"https://snarfed.org/"},
			Domains:    []string{"snarfed.org"},
			Features:   []string{domain.FeatureListen},
			LastPolled: polled,
		}, nil
	}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	account, err := svc.CreateOrUpdate(ctx, Request{
		Site:     instagram,
		Actor:    domain.Actor{Username: "snarfed", DisplayName: "New"},
		Features: []string{domain.FeaturePublish},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if account.Name != "New" || account.Picture != "https://cdn/old.jpg" {
		t.Fatalf("неожиданный профиль: %+v", account)
	}
	if diff := cmp.Diff([]string{domain.FeatureListen, domain.FeaturePublish}, account.Features); diff != "" {
		t.Fatalf("неожиданные возможности (-want +got):\n%s", diff)
	}
	if len(account.DomainURLs) != 0 || len(account.Domains) != 0 {
		t.Fatalf("домены пересчитываются из нового профиля, получили %v %v", account.DomainURLs, account.Domains)
	}
	if !account.LastPolled.Equal(polled) {
		t.Fatalf("last_polled не должен меняться, получили %v", account.LastPolled)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].LastPolled != "2024-04-01-08-30-00" {
		t.Fatalf("неожиданные задачи: %+v", queue.tasks)
	}
}

func TestCreateOrUpdateRecomputesDomainsOnReauth(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	actor := domain.Actor{Username: "snarfed", DisplayName: "Ryan", URLs: []string{"https://snarfed.org/"}}

	if _, err := svc.CreateOrUpdate(ctx, Request{Site: instagram, Actor: actor}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	actor.URLs = []string{"https://other.example/"}
	account, err := svc.CreateOrUpdate(ctx, Request{Site: instagram, Actor: actor})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff([]string{"other.example"}, account.Domains); diff != "" {
		t.Fatalf("старый домен должен уйти (-want +got):\n%s", diff)
	}

	actor.URLs = nil
	if _, err := svc.CreateOrUpdate(ctx, Request{Site: instagram, Actor: actor}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	stored, err := store.GetAccount(ctx, domain.AccountKey{Site: "instagram", ID: "snarfed"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(stored.DomainURLs) != 0 || len(stored.Domains) != 0 {
		t.Fatalf("без адресов доменов остаться не должно: %v %v", stored.DomainURLs, stored.Domains)
	}
	if stored.Name != "Ryan" {
		t.Fatalf("имя профиля должно сохраниться: %q", stored.Name)
	}
}

func TestCreateOrUpdatePublishOnlySkipsPoll(t *testing.T) {
	svc, _, queue := newService(t)
	_, err := svc.CreateOrUpdate(context.Background(), Request{
		Site:     instagram,
		Actor:    domain.Actor{ID: "tag:instagram.com,2013:12345"},
		Features: []string{domain.FeaturePublish},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.tasks) != 0 {
		t.Fatalf("для publish опрос не нужен, задач: %d", len(queue.tasks))
	}
}

func TestCreateOrUpdateRequiresIdentity(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreateOrUpdate(context.Background(), Request{Site: instagram, Actor: domain.Actor{DisplayName: "anon"}})
	if !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("ожидали ErrMalformedInput, получили %v", err)
	}
}

func TestCreateOrUpdateQueueFailure(t *testing.T) {
	svc, _, queue := newService(t)
	queue.err = errors.New("queue down")
	if _, err := svc.CreateOrUpdate(context.Background(), Request{Site: instagram, Actor: domain.Actor{Username: "x"}}); err == nil {
		t.Fatal("ожидали ошибку очереди")
	}
}

func TestKeyForActorStripsTagURI(t *testing.T) {
	key, err := KeyForActor(instagram, domain.Actor{ID: "tag:instagram.com,2013:12345"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if key.ID != "12345" {
		t.Fatalf("ожидали id 12345, получили %q", key.ID)
	}
}
