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

// Package ratemon estimates the throughput of the data path.
package ratemon

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the number of block sizes averaged
const DefaultWindow = 6

type Snapshot struct {
	BytesPerSecond float64
	// BlockRateMBps is BytesPerSecond in units of 1e6 bytes per second
	BlockRateMBps float64
	QuotaReached  bool
}

// Monitor averages the sizes of the last blocks and divides the average by the
// time elapsed since the previous tally. Tally is called from the data path,
// the rate may be read from any goroutine.
type Monitor struct {
	mu      sync.Mutex
	sizes   []float64
	next    int
	filled  int
	last    time.Time
	hasLast bool

	rate uint64 // float64 bits
}

func New(window int) *Monitor {
	if window < 1 {
		window = DefaultWindow
	}
	return &Monitor{sizes: make([]float64, window)}
}

func (m *Monitor) Tally(bytes int, words, limit uint64, now time.Time) Snapshot {
	m.mu.Lock()
	avg := m.push(float64(bytes))
	if m.hasLast {
		if period := now.Sub(m.last).Seconds(); period > 0 {
			atomic.StoreUint64(&m.rate, math.Float64bits(avg/period))
		}
	}
	m.last = now
	m.hasLast = true
	m.mu.Unlock()

	rate := m.BytesPerSecond()
	return Snapshot{
		BytesPerSecond: rate,
		BlockRateMBps:  rate / 1e6,
		QuotaReached:   limit != 0 && words >= limit,
	}
}

func (m *Monitor) push(size float64) float64 {
	m.sizes[m.next] = size
	m.next = (m.next + 1) % len(m.sizes)
	if m.filled < len(m.sizes) {
		m.filled++
	}
	sum := 0.0
	for i := 0; i < m.filled; i++ {
		sum += m.sizes[i]
	}
	return sum / float64(m.filled)
}

func (m *Monitor) BytesPerSecond() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.rate))
}

// BlockRate is the current rate in MB/s
func (m *Monitor) BlockRate() float64 {
	return m.BytesPerSecond() / 1e6
}

func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sizes {
		m.sizes[i] = 0
	}
	m.next = 0
	m.filled = 0
	m.hasLast = false
	atomic.StoreUint64(&m.rate, 0)
}
