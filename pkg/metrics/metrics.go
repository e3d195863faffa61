/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package metrics exports stream controller counters to prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	streamingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "x6_streaming",
		Help: "1 while the target is streaming.",
	},
		[]string{"target"})

	blockRateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "x6_block_rate_mbps",
		Help: "Smoothed data path throughput in MB/s.",
	},
		[]string{"target"})

	routedPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_routed_packets_total",
		Help: "Count of packets routed to a channel.",
	},
		[]string{"target"})

	routedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_routed_bytes_total",
		Help: "Count of payload bytes written to channel sinks.",
	},
		[]string{"target", "channel"})

	discardedBuffers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_discarded_buffers_total",
		Help: "Count of buffers delivered after stop and discarded.",
	},
		[]string{"target"})

	truncatedBuffers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_truncated_buffers_total",
		Help: "Count of buffers that ended in a packet that could not be framed.",
	},
		[]string{"target"})

	unroutedBuffers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_unrouted_buffers_total",
		Help: "Count of buffers cut short by an unknown stream id.",
	},
		[]string{"target"})

	sinkFullBuffers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_sink_full_buffers_total",
		Help: "Count of buffers whose data was dropped by a full channel sink.",
	},
		[]string{"target"})

	autoStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_auto_stops_total",
		Help: "Count of streaming runs stopped by the sample quota.",
	},
		[]string{"target"})

	alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x6_alerts_total",
		Help: "Count of board alerts.",
	},
		[]string{"target", "kind"})
)

// RegisterMonitoring registers all of this package's metrics
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		streamingGauge,
		blockRateGauge,
		routedPackets,
		routedBytes,
		discardedBuffers,
		truncatedBuffers,
		unroutedBuffers,
		sinkFullBuffers,
		autoStops,
		alerts,
	)
}

// Monitoring updates the metrics of one target. The zero value is not usable, see New.
type Monitoring struct {
	target string

	mu       sync.Mutex
	channels map[int]prometheus.Counter
}

func New(target int) *Monitoring {
	return &Monitoring{
		target:   strconv.Itoa(target),
		channels: map[int]prometheus.Counter{},
	}
}

func (m *Monitoring) Streaming(on bool) {
	v := 0.0
	if on {
		v = 1
	}
	streamingGauge.WithLabelValues(m.target).Set(v)
}

func (m *Monitoring) BlockRate(mbps float64) {
	blockRateGauge.WithLabelValues(m.target).Set(mbps)
}

// Processed records the outcome of one buffer
func (m *Monitoring) Processed(packets int, perChannelBytes map[int]int, truncated, unrouted bool) {
	routedPackets.WithLabelValues(m.target).Add(float64(packets))
	for ch, n := range perChannelBytes {
		m.channel(ch).Add(float64(n))
	}
	if truncated {
		truncatedBuffers.WithLabelValues(m.target).Inc()
	}
	if unrouted {
		unroutedBuffers.WithLabelValues(m.target).Inc()
	}
}

func (m *Monitoring) channel(ch int) prometheus.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[ch]
	if !ok {
		c = routedBytes.WithLabelValues(m.target, strconv.Itoa(ch))
		m.channels[ch] = c
	}
	return c
}

func (m *Monitoring) Discarded() {
	discardedBuffers.WithLabelValues(m.target).Inc()
}

func (m *Monitoring) SinkFull() {
	sinkFullBuffers.WithLabelValues(m.target).Inc()
}

func (m *Monitoring) AutoStop() {
	autoStops.WithLabelValues(m.target).Inc()
}

func (m *Monitoring) Alert(kind string) {
	alerts.WithLabelValues(m.target, kind).Inc()
}

// Clear removes the series of the target
func (m *Monitoring) Clear() {
	labels := prometheus.Labels{"target": m.target}
	for _, vec := range []*prometheus.GaugeVec{streamingGauge, blockRateGauge} {
		vec.Delete(labels)
	}
	for _, vec := range []*prometheus.CounterVec{routedPackets, discardedBuffers, truncatedBuffers, unroutedBuffers, sinkFullBuffers, autoStops} {
		vec.Delete(labels)
	}
	routedBytes.DeletePartialMatch(labels)
	alerts.DeletePartialMatch(labels)
	m.mu.Lock()
	m.channels = map[int]prometheus.Counter{}
	m.mu.Unlock()
}
