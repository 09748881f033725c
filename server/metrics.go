package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Trinoooo/eggie_sock/consts"
	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/Trinoooo/eggie_sock/server/logs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const metricsNamespace = "eggie_sock"

type MetricsHelper struct {
	Registry *prometheus.Registry

	ConnectionAcceptCounter prometheus.Counter // socket accept qps
	ConnectionRejectCounter prometheus.Counter
	ActiveConnections       prometheus.Gauge
	BytesInCounter          prometheus.Counter
	BytesOutCounter         prometheus.Counter
	WouldBlockCounter       *prometheus.CounterVec // by op
	RequestCounter          *prometheus.CounterVec // by command
	ErrorCounter            *prometheus.CounterVec // by error code
}

func NewMetricsHelper() *MetricsHelper {
	mh := &MetricsHelper{
		Registry: prometheus.NewRegistry(),
		ConnectionAcceptCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_accept_counter",
		}),
		ConnectionRejectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_reject_counter",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
		}),
		BytesInCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_in_counter",
		}),
		BytesOutCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_out_counter",
		}),
		WouldBlockCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "would_block_counter",
		}, []string{"op"}),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "request_counter",
		}, []string{"cmd"}),
		ErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "error_counter",
		}, []string{"code"}),
	}
	mh.Registry.MustRegister(
		mh.ConnectionAcceptCounter,
		mh.ConnectionRejectCounter,
		mh.ActiveConnections,
		mh.BytesInCounter,
		mh.BytesOutCounter,
		mh.WouldBlockCounter,
		mh.RequestCounter,
		mh.ErrorCounter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mh
}

func (mh *MetricsHelper) countErr(err error) {
	mh.ErrorCounter.WithLabelValues(strconv.FormatInt(errs.GetCode(err), 10)).Inc()
}

// Handler 以 Prometheus 文本格式输出 registry
func (mh *MetricsHelper) Handler() http.Handler {
	return promhttp.HandlerFor(mh.Registry, promhttp.HandlerOpts{Registry: mh.Registry})
}

// Serve 在 addr 上暴露 /metrics，直到 ctx 结束
func (mh *MetricsHelper) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mh.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logs.Info("metrics endpoint", zap.String(consts.LogFieldLocal, addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// Push 每隔 interval 把 registry 推送到 push gateway，直到 ctx 结束
func (mh *MetricsHelper) Push(ctx context.Context, url string, interval time.Duration) {
	pusher := push.New(url, metricsNamespace).Gatherer(mh.Registry)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pusher.Add(); err != nil {
				logs.Warn("prometheus pusher push failed", zap.Error(err))
			}
		}
	}
}
