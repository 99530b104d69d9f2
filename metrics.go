package godup

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for copy operations. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	bytesRead       prometheus.Counter
	bytesWritten    *prometheus.CounterVec
	writeRetries    *prometheus.CounterVec
	destFailures    *prometheus.CounterVec
	operations      *prometheus.CounterVec
	buffersInFlight prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "godup",
			Name:      "bytes_read_total",
			Help:      "Bytes read from copy sources.",
		}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godup",
			Name:      "bytes_written_total",
			Help:      "Bytes written to copy destinations.",
		}, []string{"destination"}),
		writeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godup",
			Name:      "write_retries_total",
			Help:      "Destination writes retried after a transient failure.",
		}, []string{"destination"}),
		destFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godup",
			Name:      "destination_failures_total",
			Help:      "Destinations that gave up.",
		}, []string{"destination"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godup",
			Name:      "operations_total",
			Help:      "Finished copy operations by result.",
		}, []string{"result"}),
		buffersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "godup",
			Name:      "buffers_in_flight",
			Help:      "Pooled buffers checked out at the last read.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.bytesRead, m.bytesWritten, m.writeRetries, m.destFailures, m.operations, m.buffersInFlight,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) addRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) addWritten(dest, n int) {
	if m == nil {
		return
	}
	m.bytesWritten.WithLabelValues(strconv.Itoa(dest)).Add(float64(n))
}

func (m *Metrics) addRetry(dest int) {
	if m == nil {
		return
	}
	m.writeRetries.WithLabelValues(strconv.Itoa(dest)).Inc()
}

func (m *Metrics) addFailure(dest int) {
	if m == nil {
		return
	}
	m.destFailures.WithLabelValues(strconv.Itoa(dest)).Inc()
}

func (m *Metrics) addOperation(result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(result).Inc()
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.buffersInFlight.Set(float64(n))
}
