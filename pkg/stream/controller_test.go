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

package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/capture"
	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/device/sim"
	"jinr.ru/greenlab/go-x6/pkg/layers"
	"jinr.ru/greenlab/go-x6/pkg/ratemon"
	"jinr.ru/greenlab/go-x6/pkg/trigger"
)

const waitFor = 2 * time.Second

type fakeBoard struct {
	*device.Device
	openErr error
	bufs    chan []byte
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		Device: device.NewDevice(device.DefaultParams("fake")),
		bufs:   make(chan []byte, 16),
	}
}

func (b *fakeBoard) Open() error {
	if b.openErr != nil {
		return b.openErr
	}
	return b.OpenDevice()
}

func (b *fakeBoard) StartStream() error {
	return b.StartProducer(b.produce)
}

func (b *fakeBoard) produce(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf := <-b.bufs:
			b.Emit(buf)
		}
	}
}

type fakeHost struct {
	mu       sync.Mutex
	settings *config.Settings
	logs     []string
	stops    int
	progress []int
	statuses []Status
}

func newFakeHost() *fakeHost {
	return &fakeHost{settings: config.NewDefaultSettings()}
}

func (h *fakeHost) Log(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, message)
}

func (h *fakeHost) GetSettings() *config.Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings.Clone()
}

func (h *fakeHost) AfterStreamAutoStop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
}

func (h *fakeHost) UpdateProgress(percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, percent)
}

func (h *fakeHost) PeriodicStatus(status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *fakeHost) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *fakeHost) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.logs {
		if l == message {
			n++
		}
	}
	return n
}

func (h *fakeHost) hasPrefix(prefix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.logs {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

type fakeTicker struct {
	c chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.c
}

func (t *fakeTicker) Stop() {}

// fakeClock advances by a millisecond on every Now
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) ratemon.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &fakeTicker{c: make(chan time.Time)}
	return c.ticker
}

func (c *fakeClock) tick(t *testing.T) {
	c.mu.Lock()
	ticker := c.ticker
	c.mu.Unlock()
	require.NotNil(t, ticker)
	select {
	case ticker.c <- time.Now():
	case <-time.After(waitFor):
		t.Fatal("timer goroutine is not running")
	}
}

type captures struct {
	mu      sync.Mutex
	records []*capture.Record
}

func (c *captures) Put(rec *capture.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captures) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func packet(t *testing.T, ch int, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i)
	}
	p, err := layers.NewVitaPacket(layers.ChannelStreamID(ch), 0, layers.EncodeSamples(samples))
	require.NoError(t, err)
	buf := make([]byte, p.Len())
	require.NoError(t, p.Serialize(buf))
	return buf
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeBoard, *fakeHost, *fakeClock) {
	board := newFakeBoard()
	host := newFakeHost()
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := New(board, host, append([]Option{WithClock(clk)}, opts...)...)
	t.Cleanup(func() {
		c.Close()
	})
	return c, board, host, clk
}

func TestOpenClose(t *testing.T) {
	c, _, host, _ := newTestController(t)

	require.NoError(t, c.Open())
	assert.True(t, c.IsOpen())
	assert.Equal(t, StateConnected, c.State())
	assert.NotEmpty(t, c.Session())
	assert.Equal(t, 1, host.count("Bus master size: 16 MB"))
	assert.Equal(t, 1, host.count("Module Device opened successfully..."))
	assert.Equal(t, 1, host.count("Stream Connected..."))
	assert.True(t, host.hasPrefix("Logic Version: 105"))

	require.NoError(t, c.Open())
	assert.Equal(t, 1, host.count("Stream Connected..."))

	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.Equal(t, 1, host.count("Stream Disconnected..."))
	require.NoError(t, c.Close())
	assert.Equal(t, 1, host.count("Stream Disconnected..."))
}

func TestOpenFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		logs []string
	}{
		{"recognized", ifc.ErrDevice{What: "no board at target 0"}, []string{"Module Device Open Failure:", "no board at target 0"}},
		{"unknown", errors.New("bus fault"), []string{"Module Device Open Failure: Unknown Exception"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, board, host, _ := newTestController(t)
			board.openErr = tt.err

			require.Error(t, c.Open())
			assert.False(t, c.IsOpen())
			for _, l := range tt.logs {
				assert.Equal(t, 1, host.count(l), l)
			}
			assert.Zero(t, host.count("Stream Connected..."))
		})
	}
}

func TestStartRejected(t *testing.T) {
	tests := []struct {
		name   string
		open   bool
		modify func(s *config.Settings)
		log    string
		stops  int
	}{
		{"not connected", false, func(s *config.Settings) {}, "Stream not connected! -- Open the boards", 0},
		{"sample rate", true, func(s *config.Settings) { s.SampleRateMHz = 2000 }, "Sample rate too high.", 1},
		{"frame size", true, func(s *config.Settings) {
			s.Framed = true
			s.FrameSize = 100
		}, "Error: Frame count must be a multiple of 16", 1},
		{"no channel", true, func(s *config.Settings) {
			s.ActiveChannels = []bool{false, false}
		}, "Error: Must enable at least one channel", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, host, _ := newTestController(t)
			tt.modify(host.settings)
			if tt.open {
				require.NoError(t, c.Open())
			}

			err := c.StartStreaming()
			var rejected ErrStartRejected
			require.True(t, errors.As(err, &rejected), "%v", err)
			assert.False(t, c.IsStreaming())
			assert.Equal(t, 1, host.count(tt.log))
			assert.Equal(t, tt.stops, host.stopCount())
			assert.Zero(t, host.count("Stream Mode started"))
		})
	}
}

func TestStreamAutoStop(t *testing.T) {
	store := &captures{}
	c, board, host, _ := newTestController(t, WithCaptureWriter(store))
	// 64 samples are 32 words, reached by one packet per channel
	host.settings.SamplesToLog = 64
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())
	assert.True(t, c.IsStreaming())
	assert.Equal(t, 1, host.count("Stream Mode started"))
	assert.True(t, host.hasPrefix("Actual PLL Frequency: "))

	buf := append(packet(t, 0, 32), packet(t, 1, 32)...)
	board.bufs <- buf

	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.False(t, c.IsStreaming())
	assert.Equal(t, 1, host.count("Stream Mode Stopped automatically"))
	assert.Equal(t, 1, host.count("Analog I/O Stopped"))
	assert.Equal(t, int64(64), c.SampleCount())

	samples, ok := c.Channel(0)
	require.True(t, ok)
	assert.Len(t, samples, 32)
	assert.Equal(t, int16(31), samples[31])

	// late buffers after the stop are discarded
	c.handleData(buf)
	assert.Equal(t, int64(64), c.SampleCount())
	assert.Equal(t, 1, host.count("Stream Mode Stopped automatically"))

	require.Equal(t, 1, store.len())
	rec := store.records[0]
	assert.Equal(t, c.Session(), rec.Session)
	require.Len(t, rec.Channels, 2)
	assert.Equal(t, 32, rec.Channels[1].Summary.Count)
}

func TestStreamWithoutAutoStop(t *testing.T) {
	c, board, host, _ := newTestController(t)
	host.settings.SamplesToLog = 64
	host.settings.AutoStop = false
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())

	buf := append(packet(t, 0, 32), packet(t, 1, 32)...)
	board.bufs <- buf
	board.bufs <- buf
	require.Eventually(t, func() bool { return c.SampleCount() == 64 }, waitFor, time.Millisecond)
	assert.True(t, c.IsStreaming())

	require.NoError(t, c.StopStreaming())
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, int64(64), c.SampleCount())
	assert.Zero(t, host.count("Stream Mode Stopped automatically"))
}

func TestStopDiscardsLateBuffers(t *testing.T) {
	c, _, host, _ := newTestController(t)
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())

	require.NoError(t, c.StopStreaming())
	require.NoError(t, c.StopStreaming())
	assert.False(t, c.IsStreaming())

	c.handleData(packet(t, 0, 16))
	assert.Zero(t, c.SampleCount())
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, trigger.Idle, c.TriggerState())
}

func TestStopNotConnected(t *testing.T) {
	c, _, host, _ := newTestController(t)
	assert.Equal(t, ErrNotConnected{}, c.StopStreaming())
	assert.Equal(t, 1, host.count("Stream not connected! -- Open the boards"))
}

func TestRestart(t *testing.T) {
	c, board, host, _ := newTestController(t)
	host.settings.SamplesToLog = 64
	require.NoError(t, c.Open())

	for i := 1; i <= 2; i++ {
		require.NoError(t, c.StartStreaming())
		board.bufs <- append(packet(t, 0, 32), packet(t, 1, 32)...)
		require.Eventually(t, func() bool { return host.stopCount() == i }, waitFor, time.Millisecond)
		assert.Equal(t, int64(64), c.SampleCount())
	}
	assert.Equal(t, 2, host.count("Stream Mode Stopped automatically"))
}

func TestStatusTimer(t *testing.T) {
	c, board, host, clk := newTestController(t)
	host.settings.SamplesToLog = 128
	host.settings.DelayedTriggerPeriod = 2
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())
	assert.Equal(t, trigger.Armed, c.TriggerState())

	board.bufs <- packet(t, 0, 32)
	require.Eventually(t, func() bool { return c.SampleCount() == 32 }, waitFor, time.Millisecond)

	clk.tick(t)
	clk.tick(t)
	require.Eventually(t, func() bool { return c.TriggerState() == trigger.Triggered }, waitFor, time.Millisecond)

	host.mu.Lock()
	defer host.mu.Unlock()
	require.NotEmpty(t, host.statuses)
	st := host.statuses[0]
	assert.True(t, st.Streaming)
	assert.Equal(t, uint64(64), st.WordsToLog)
	assert.Equal(t, uint64(16), st.Words)
	assert.Equal(t, 32, st.Channels[0])
	assert.Equal(t, []int{25}, host.progress)
}

func TestAlerts(t *testing.T) {
	c, _, host, _ := newTestController(t)
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())

	c.handleAlert(ifc.Alert{Kind: ifc.AlertTrigger, Value: 1})
	assert.Equal(t, trigger.Triggered, c.TriggerState())

	c.handleAlert(ifc.Alert{Kind: ifc.AlertInputFifoOverrun, Value: 2})
	assert.Equal(t, trigger.Idle, c.TriggerState())
	assert.Equal(t, 1, host.count("Input FIFO overrun 0x2"))

	require.NoError(t, c.SoftwareAlert(0x10))
	assert.Equal(t, 1, host.count("Posting SW alert..."))
}

func TestSimBoard(t *testing.T) {
	board := sim.New(nil, sim.WithInterval(time.Millisecond))
	host := newFakeHost()
	host.settings.SamplesToLog = 4096
	host.settings.DelayedTriggerPeriod = 0
	host.settings.TestCounterEnable = true
	store := &captures{}
	c := New(board, host, WithCaptureWriter(store))
	defer c.Close()

	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, 5*time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, c.SampleCount(), int64(4096))
	require.Equal(t, 1, store.len())
	total := 0
	for _, ch := range store.records[0].Channels {
		total += len(ch.Samples)
	}
	assert.GreaterOrEqual(t, total, 4096)
	assert.Equal(t, 1, host.count("Stream Mode Stopped automatically"))
}

func TestUnlimitedSinkFull(t *testing.T) {
	c, board, host, _ := newTestController(t)
	host.settings.SamplesToLog = 0
	host.settings.UnboundedSinkSize = 64
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())

	buf := append(packet(t, 0, 32), packet(t, 1, 32)...)
	for i := 0; i < 4; i++ {
		board.bufs <- buf
	}
	require.Eventually(t, func() bool {
		return host.count("Channel sink full, dropping data") == 1
	}, waitFor, time.Millisecond)
	assert.True(t, c.IsStreaming())

	require.NoError(t, c.StopStreaming())
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, host.count("Channel sink full, dropping data"))
	samples, ok := c.Channel(0)
	require.True(t, ok)
	assert.Len(t, samples, 64)
}

func TestQuotaOneSamplePerWord(t *testing.T) {
	c, board, host, _ := newTestController(t)
	board.Params.SamplesPerWord = 1
	host.settings.SamplesToLog = 140000
	host.settings.ActiveChannels = []bool{true, false}
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())
	assert.Equal(t, uint64(140000), c.Status().WordsToLog)

	// the largest packet holds 65533 words, the third one crosses the quota
	buf := packet(t, 0, 2*(layers.VitaMaxPacketWords-layers.VitaHeaderWords))
	for i := 0; i < 3; i++ {
		board.bufs <- buf
	}
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, host.count("Stream Mode Stopped automatically"))
	assert.False(t, host.hasPrefix("Stream aborted"))
	assert.Equal(t, int64(3*131066), c.SampleCount())

	samples, ok := c.Channel(0)
	require.True(t, ok)
	assert.Len(t, samples, 3*131066)
}

func TestSamplesToLogBelowOneWord(t *testing.T) {
	c, board, host, _ := newTestController(t)
	host.settings.SamplesToLog = 1
	require.NoError(t, c.Open())
	require.NoError(t, c.StartStreaming())
	assert.Equal(t, 1, host.count("Samples to log 1 is less than one word, logging 1 word"))
	assert.Equal(t, uint64(1), c.Status().WordsToLog)

	board.bufs <- packet(t, 0, 32)
	require.Eventually(t, func() bool { return host.stopCount() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, host.count("Stream Mode Stopped automatically"))
	assert.Equal(t, int64(32), c.SampleCount())
}
