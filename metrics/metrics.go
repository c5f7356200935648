// Package metrics pushes per-stage timing and outcome samples to a
// Prometheus remote-write endpoint. Pushing is fire-and-forget: a failed
// push is a warning and never affects a run's outcome.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
)

const defaultTimeout = 30 * time.Second

// Metric is a single sample point.
type Metric struct {
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// Client pushes samples to a remote-write endpoint. Counters registered on
// its registry ride along with every push via Gathered.
type Client struct {
	url        string
	httpClient *http.Client
	registry   *prometheus.Registry
	runsTotal  *prometheus.CounterVec
	prefix     string
	job        string
	instance   string
}

// Option configures a Client.
type Option func(*Client)

// WithPrefix sets the metric name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Client) { c.prefix = prefix }
}

// WithJob sets the job label attached to every sample.
func WithJob(job string) Option {
	return func(c *Client) { c.job = job }
}

// WithInstance sets the instance label attached to every sample.
func WithInstance(instance string) Option {
	return func(c *Client) { c.instance = instance }
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a push client for the given remote-write base URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url + "/api/v1/write",
		httpClient: &http.Client{Timeout: defaultTimeout},
		registry:   prometheus.NewRegistry(),
		prefix:     "kairosdeploy",
	}
	c.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runs_total",
		Help: "Completed pipeline runs by terminal status.",
	}, []string{"status"})
	c.registry.MustRegister(c.runsTotal)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordRun counts a finished run on the client's registry.
func (c *Client) RecordRun(status string) {
	c.runsTotal.WithLabelValues(status).Inc()
}

// Gathered converts everything registered on the client's registry into
// samples, so registry counters ship in the same remote-write request as the
// per-run samples.
func (c *Client) Gathered() ([]Metric, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering registry metrics: %w", err)
	}

	now := time.Now()
	var metrics []Metric
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value, ok := sampleValue(m)
			if !ok {
				continue
			}
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			metrics = append(metrics, Metric{
				Name:      family.GetName(),
				Value:     value,
				Labels:    labels,
				Timestamp: now,
			})
		}
	}
	return metrics, nil
}

func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	default:
		return 0, false
	}
}

// PushMetrics sends the samples in one remote-write request.
func (c *Client) PushMetrics(ctx context.Context, metrics ...Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	timeseries := make([]prompb.TimeSeries, 0, len(metrics))
	for _, metric := range metrics {
		timeseries = append(timeseries, c.metricToTimeSeries(metric))
	}

	req := &prompb.WriteRequest{Timeseries: timeseries}
	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) metricToTimeSeries(metric Metric) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(metric.Labels)+3)

	name := metric.Name
	if c.prefix != "" {
		name = c.prefix + "_" + name
	}
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	if c.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: c.job})
	}
	if c.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: c.instance})
	}
	for k, v := range metric.Labels {
		labels = append(labels, prompb.Label{Name: k, Value: v})
	}

	timestamp := metric.Timestamp.UnixMilli()
	if metric.Timestamp.IsZero() {
		timestamp = time.Now().UnixMilli()
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: metric.Value, Timestamp: timestamp}},
	}
}
