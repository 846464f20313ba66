package main

import (
	"fmt"
	"io"

	stream "github.com/joeycumines/go-stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// pipelineMetrics counts the traffic through each stream of a pipeline.
type pipelineMetrics struct {
	registry *prometheus.Registry
	chunks   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	drains   *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

func newPipelineMetrics() *pipelineMetrics {
	m := &pipelineMetrics{
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampipe",
			Name:      "chunks_total",
			Help:      "Chunks emitted by each readable stream.",
		}, []string{"stream"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampipe",
			Name:      "bytes_total",
			Help:      "Bytes emitted by each byte stream.",
		}, []string{"stream"}),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampipe",
			Name:      "drains_total",
			Help:      "Drain events of each writable stream.",
		}, []string{"stream"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampipe",
			Name:      "errors_total",
			Help:      "Errors emitted by each stream.",
		}, []string{"stream"}),
	}
	m.registry.MustRegister(m.chunks, m.bytes, m.drains, m.errors)
	return m
}

// watch subscribes to the events of s. It must be called on the scheduler
// goroutine, after s has been piped.
func (m *pipelineMetrics) watch(name string, s stream.Stream) {
	if m == nil {
		return
	}
	s.OnError(func(error) { m.errors.WithLabelValues(name).Inc() })
	switch s := s.(type) {
	case *stream.Readable[[]byte]:
		watchChunks[[]byte](m, name, s, byteLen)
	case *stream.Transform[[]byte, string]:
		watchChunks[string](m, name, s, nil)
		watchDrains(m, name, s)
	case *stream.Transform[string, string]:
		watchChunks[string](m, name, s, nil)
		watchDrains(m, name, s)
	case *stream.Transform[string, []byte]:
		watchChunks[[]byte](m, name, s, byteLen)
		watchDrains(m, name, s)
	case *stream.Writable[[]byte]:
		watchDrains(m, name, s)
	}
}

func byteLen(b []byte) int { return len(b) }

func watchChunks[T any](m *pipelineMetrics, name string, r stream.ReadableStream[T], size func(T) int) {
	chunks := m.chunks.WithLabelValues(name)
	var bytes prometheus.Counter
	if size != nil {
		bytes = m.bytes.WithLabelValues(name)
	}
	r.OnData(func(chunk T) {
		chunks.Inc()
		if bytes != nil {
			bytes.Add(float64(size(chunk)))
		}
	})
}

func watchDrains(m *pipelineMetrics, name string, w interface{ OnDrain(func()) stream.ListenerID }) {
	drains := m.drains.WithLabelValues(name)
	w.OnDrain(drains.Inc)
}

// write writes every metric in the text exposition format.
func (m *pipelineMetrics) write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
