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

package sink

import (
	"encoding/binary"
	"sync/atomic"

	"jinr.ru/greenlab/go-x6/pkg/config"
)

// SampleSize is the size in bytes of one stored sample
const SampleSize = 2

// Sink is a fixed capacity destination for the samples of one channel.
// Write is called by a single writer, the other methods may be called concurrently.
type Sink interface {
	// Write appends little-endian int16 samples and returns the number of samples written
	Write(payload []byte) (int, error)
	Count() int
	Cap() int
	Remaining() int
	// Samples returns a copy of the samples written so far
	Samples() []int16
	Reset()
}

// Allocator creates sinks for one memory placement
type Allocator interface {
	Allocate(capacity int) (Sink, error)
	Placement() string
}

// NewAllocator selects the allocator once at configuration time
func NewAllocator(placement string) (Allocator, error) {
	switch placement {
	case "", config.PlacementHost:
		return HostAllocator{}, nil
	}
	return nil, ErrUnsupportedPlacement{Placement: placement}
}

type HostAllocator struct{}

func (HostAllocator) Allocate(capacity int) (Sink, error) {
	return NewHostSink(capacity), nil
}

func (HostAllocator) Placement() string {
	return config.PlacementHost
}

// HostSink keeps samples in host memory
type HostSink struct {
	data  []int16
	count int64
}

var _ Sink = (*HostSink)(nil)

func NewHostSink(capacity int) *HostSink {
	if capacity < 0 {
		capacity = 0
	}
	return &HostSink{data: make([]int16, capacity)}
}

func (s *HostSink) Write(payload []byte) (int, error) {
	n := len(payload) / SampleSize
	count := int(atomic.LoadInt64(&s.count))
	if n > len(s.data)-count {
		return 0, ErrOverflow
	}
	dst := s.data[count : count+n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(payload[i*SampleSize:]))
	}
	atomic.StoreInt64(&s.count, int64(count+n))
	return n, nil
}

func (s *HostSink) Count() int {
	return int(atomic.LoadInt64(&s.count))
}

func (s *HostSink) Cap() int {
	return len(s.data)
}

func (s *HostSink) Remaining() int {
	return s.Cap() - s.Count()
}

func (s *HostSink) Samples() []int16 {
	count := s.Count()
	out := make([]int16, count)
	copy(out, s.data[:count])
	return out
}

func (s *HostSink) Reset() {
	atomic.StoreInt64(&s.count, 0)
}

// Capacity returns the per channel capacity in samples for a quota of
// wordsToLog words shared by all channels, each word holding samplesPerWord
// stored samples. The quota is gated by one combined counter, so a single
// channel may receive all of it plus the packet that crosses the limit.
func Capacity(wordsToLog uint64, samplesPerWord int, packetBytes int, unbounded int) int {
	slack := packetBytes / SampleSize
	if wordsToLog == 0 {
		return unbounded
	}
	return int(wordsToLog)*samplesPerWord + slack
}
