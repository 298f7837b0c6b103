package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	IncPollTask("poll-now")
	if got := testutil.ToFloat64(PollTasksEnqueued.WithLabelValues("poll-now")); got < 1 {
		t.Fatalf("счётчик задач не увеличен: %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "poll_tasks_enqueued_total"); err != nil || n == 0 {
		t.Fatalf("метрика не зарегистрирована: n=%d err=%v", n, err)
	}
}

func TestObserveNetworkRequestStatus(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("fetch", "get", "unknown", "error"))
	ObserveNetworkRequest("fetch", "get", "", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("fetch", "get", "unknown", "error"))
	if after != before+1 {
		t.Fatalf("ожидался статус error с target unknown: %v -> %v", before, after)
	}
}
