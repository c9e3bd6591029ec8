package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func sweepRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	released := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "stayledger_deposits_released_total",
		Help:        "released",
		ConstLabels: prometheus.Labels{"env": "test"},
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stayledger_scheduler_job_duration_seconds",
		Help:    "duration",
		Buckets: []float64{1, 10},
	})
	registry.MustRegister(released, duration)
	released.Add(3)
	duration.Observe(2)
	return registry
}

func TestNewPusher(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, log))

	assert.IsType(t, &RemoteWritePusher{}, NewPusher(config.Config{
		MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://prom/api/v1/write"},
	}, log))
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(config.Config{
		AppName:     "stayledger",
		MetricsPush: config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://gateway:9091"},
	}, log))
}

func TestRemoteWritePush(t *testing.T) {
	var got prompb.WriteRequest
	var auth, encoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		encoding = r.Header.Get("Content-Encoding")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, proto.Unmarshal(decoded, protoadapt.MessageV2Of(&got)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, pusher.Push(context.Background(), sweepRegistry(t)))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "snappy", encoding)

	values := map[string]float64{}
	for _, ts := range got.Timeseries {
		for _, label := range ts.Labels {
			if label.Name == "__name__" {
				values[label.Value] = ts.Samples[0].Value
				assert.Equal(t, int64(1700000000000), ts.Samples[0].Timestamp)
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"stayledger_deposits_released_total":              3,
		"stayledger_scheduler_job_duration_seconds_count": 1,
		"stayledger_scheduler_job_duration_seconds_sum":   2,
	}, values)
}

func TestRemoteWritePushRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), sweepRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayPush(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "stayledger", map[string]string{"environment": "test", "empty": ""})
	require.NoError(t, pusher.Push(context.Background(), sweepRegistry(t)))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/stayledger/environment/test", path)
}

func TestPushgatewayRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://gateway:9091", "", nil).Push(context.Background(), prometheus.NewRegistry())
	require.Error(t, err)
}
