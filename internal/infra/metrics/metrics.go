package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ActivityMerges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_merges_total",
		Help: "Слияния активностей по результату",
	}, []string{"kind", "result"})

	AuthDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_decisions_total",
		Help: "Решения авторизации токенов",
	}, []string{"entry", "result"})

	LifecycleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_transitions_total",
		Help: "Переходы жизненного цикла аккаунтов",
	}, []string{"operation", "result"})

	PageCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "page_cache_lookups_total",
		Help: "Обращения к кэшу страниц",
	}, []string{"outcome"})

	FetchRefused = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_refused_total",
		Help: "Отклонённые удалённые запросы",
	}, []string{"reason"})

	PollTasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_tasks_enqueued_total",
		Help: "Поставленные задачи опроса",
	}, []string{"queue"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ActivityMerges,
		AuthDecisions,
		LifecycleTransitions,
		PageCacheLookups,
		FetchRefused,
		PollTasksEnqueued,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveMerge учитывает результат слияния: created, merged или rejected.
func ObserveMerge(kind, result string) {
	ActivityMerges.WithLabelValues(kind, result).Inc()
}

// ObserveAuthDecision учитывает решение авторизации.
func ObserveAuthDecision(entry, result string) {
	AuthDecisions.WithLabelValues(entry, result).Inc()
}

// ObserveTransition учитывает переход жизненного цикла.
func ObserveTransition(operation, result string) {
	LifecycleTransitions.WithLabelValues(operation, result).Inc()
}

// ObservePageCache учитывает hit, miss или expired.
func ObservePageCache(outcome string) {
	PageCacheLookups.WithLabelValues(outcome).Inc()
}

// IncFetchRefused учитывает отклонённый запрос.
func IncFetchRefused(reason string) {
	FetchRefused.WithLabelValues(reason).Inc()
}

// IncPollTask учитывает поставленную задачу опроса.
func IncPollTask(queue string) {
	PollTasksEnqueued.WithLabelValues(queue).Inc()
}
