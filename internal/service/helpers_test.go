package service

import (
	"maps"
	"sync"
	"time"
)

type recordedMetric struct {
	name  string
	value float64
	tags  map[string]string
}

// recordingSink captures emitted metrics for assertions.
type recordingSink struct {
	mu      sync.Mutex
	counts  []recordedMetric
	gauges  []recordedMetric
	timings []recordedMetric
}

func newRecordingSink() *recordingSink { return &recordingSink{} }

func (s *recordingSink) Count(name string, value int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, recordedMetric{name: name, value: float64(value), tags: maps.Clone(tags)})
}

func (s *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges = append(s.gauges, recordedMetric{name: name, value: value, tags: maps.Clone(tags)})
}

func (s *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings = append(s.timings, recordedMetric{name: name, value: float64(value), tags: maps.Clone(tags)})
}

// count sums counters whose tags include every entry of want.
func (s *recordingSink) count(name string, want map[string]string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, m := range s.counts {
		if m.name == name && tagsMatch(m.tags, want) {
			total += int64(m.value)
		}
	}
	return total
}

// gauge returns the last gauge value matching name and tags.
func (s *recordingSink) gauge(name string, want map[string]string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v float64
	for _, m := range s.gauges {
		if m.name == name && tagsMatch(m.tags, want) {
			v = m.value
		}
	}
	return v
}

func tagsMatch(got, want map[string]string) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
