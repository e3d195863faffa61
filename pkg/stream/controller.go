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

// Package stream drives one digitizer board: it opens and configures the
// board, routes the raw packet buffers to the channel sinks and stops the
// stream once the sample quota is reached.
package stream

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-x6/pkg/capture"
	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/demux"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/layers"
	"jinr.ru/greenlab/go-x6/pkg/log"
	"jinr.ru/greenlab/go-x6/pkg/metrics"
	"jinr.ru/greenlab/go-x6/pkg/ratemon"
	"jinr.ru/greenlab/go-x6/pkg/sink"
	"jinr.ru/greenlab/go-x6/pkg/trigger"
)

const meg = 1024 * 1024

// samplesPerWord is the number of stored samples in one quota word,
// independent of how the board packs its converter samples
const samplesPerWord = demux.WordSize / sink.SampleSize

type State int32

const (
	StateClosed State = iota
	StateOpened
	StateConnected
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// CaptureWriter receives the channel samples of every finished run
type CaptureWriter interface {
	Put(rec *capture.Record) error
}

// Recorder receives every raw packet buffer of a run
type Recorder interface {
	Start() error
	Record(buf []byte) error
	Stop() error
}

type Option func(c *Controller)

func WithClock(clock ratemon.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithCaptureWriter(w CaptureWriter) Option {
	return func(c *Controller) {
		c.captures = w
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func WithStatusInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithAllocator(a sink.Allocator) Option {
	return func(c *Controller) {
		c.allocator = a
	}
}

func WithMonitoring(m *metrics.Monitoring) Option {
	return func(c *Controller) {
		c.monitoring = m
	}
}

// run holds everything built for one streaming session. It is published to
// the data path before the stopped flag is cleared and never mutated after.
type run struct {
	settings *config.Settings
	channels []int
	sinks    map[int]sink.Sink
	demux    *demux.Demux
	quota    *demux.Quota

	autoStopped int32
	sinkFull    int32
	progress    int32
}

// Controller is the stream controller of one board. Open, Close,
// StartStreaming and StopStreaming are serialized, the data path runs on the
// board's producer goroutine and never takes the control lock.
type Controller struct {
	board ifc.Board
	host  Host

	clock      ratemon.Clock
	interval   time.Duration
	captures   CaptureWriter
	recorder   Recorder
	allocator  sink.Allocator
	monitoring *metrics.Monitoring

	mu      sync.Mutex
	state   int32
	stopped int32
	session atomic.Value
	target  int32

	run  atomic.Pointer[run]
	rate *ratemon.Monitor
	trig *trigger.Coordinator

	tmu        sync.Mutex
	ticker     ratemon.Ticker
	tickerDone chan struct{}
}

func New(board ifc.Board, host Host, opts ...Option) *Controller {
	c := &Controller{
		board:     board,
		host:      host,
		clock:     ratemon.RealClock{},
		interval:  config.DefaultStatusIntervalMsec * time.Millisecond,
		allocator: sink.HostAllocator{},
		stopped:   1,
		rate:      ratemon.New(ratemon.DefaultWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.trig = trigger.New(board)
	c.session.Store("")
	return c
}

func (c *Controller) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Controller) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Controller) IsOpen() bool {
	return c.State() != StateClosed
}

func (c *Controller) IsStreaming() bool {
	return c.State() == StateStreaming
}

// Session is the id of the current open/close cycle
func (c *Controller) Session() string {
	return c.session.Load().(string)
}

func (c *Controller) Target() int {
	return int(atomic.LoadInt32(&c.target))
}

func (c *Controller) logf(format string, args ...interface{}) {
	c.host.Log(fmt.Sprintf(format, args...))
}

func (c *Controller) BoardCount() int {
	return c.board.BoardCount()
}

// Open opens the board selected by the target setting and connects the stream
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateClosed {
		return nil
	}

	s := c.host.GetSettings()
	in, out := s.BusMasterSizes()
	atomic.StoreInt32(&c.target, int32(s.Target))
	err := c.board.SetTarget(s.Target)
	if err == nil {
		err = c.board.SetBusMasterSizes(in, out)
	}
	if err == nil {
		c.logf("Bus master size: %d MB", in/meg)
		err = c.board.Open()
	}
	if err != nil {
		c.openFailure(err)
		return err
	}

	if err = c.board.Reset(); err != nil {
		c.openFailure(err)
		if cerr := c.board.Close(); cerr != nil {
			log.Debug("Closing board after failed reset: %s", cerr)
		}
		return err
	}
	c.host.Log("Module Device opened successfully...")
	c.session.Store(uuid.New().String())
	c.setState(StateOpened)

	c.connect()
	c.logInfo()
	return nil
}

func (c *Controller) openFailure(err error) {
	var devErr ifc.ErrDevice
	if errors.As(err, &devErr) {
		c.host.Log("Module Device Open Failure:")
		c.host.Log(devErr.What)
		return
	}
	log.Debug("Open failure: %s", err)
	c.host.Log("Module Device Open Failure: Unknown Exception")
}

func (c *Controller) connect() {
	c.board.OnDataAvailable(c.handleData)
	c.board.OnAfterStop(c.handleAfterStop)
	c.board.OnAlert(c.handleAlert)
	c.setState(StateConnected)
	c.host.Log("Stream Connected...")
}

func (c *Controller) logInfo() {
	info := c.board.Info()
	c.logf("Logic Version: %x, Subrevision: %x", info.LogicVersion, info.LogicSubVersion)
	c.logf("FPGA Type: %x, PCI Logic Version: %x", info.FpgaType, info.PciLogicVersion)
}

// Close stops a running stream, closes the board and disconnects the
// handlers. Closing a closed controller does nothing.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return nil
	}
	if err := c.stop(); err != nil {
		log.Debug("Stop on close: %s", err)
	}
	// the board waits for its producer, the after stop handler runs before this returns
	err := c.board.Close()
	c.board.OnDataAvailable(nil)
	c.board.OnAfterStop(nil)
	c.board.OnAlert(nil)
	c.setState(StateClosed)
	c.host.Log("Stream Disconnected...")
	if err != nil {
		return errors.Wrap(err, "closing board")
	}
	return nil
}

func (c *Controller) reject(reason string) error {
	c.host.AfterStreamAutoStop()
	return ErrStartRejected{Reason: reason}
}

// StartStreaming configures the board from the current settings and starts
// the stream. Every setting is validated before the board starts.
func (c *Controller) StartStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateStreaming:
		return ErrAlreadyStreaming{}
	case StateConnected:
	default:
		c.host.Log("Stream not connected! -- Open the boards")
		return ErrStartRejected{Reason: "stream not connected"}
	}

	// the previous run's after stop handler must not see the new run
	c.board.Wait()

	s := c.host.GetSettings()
	if s.SampleRateMHz*1e6 > c.board.MaxSampleRate() {
		c.host.Log("Sample rate too high.")
		if err := c.stop(); err != nil {
			log.Debug("Stop after rejected start: %s", err)
		}
		return c.reject("sample rate too high")
	}
	if s.Framed {
		if g := c.board.TriggerFrameGranularity(); g > 0 && s.FrameSize%g != 0 {
			c.logf("Error: Frame count must be a multiple of %d", g)
			return c.reject(fmt.Sprintf("frame size %d is not a multiple of %d", s.FrameSize, g))
		}
	}

	spw := c.board.SamplesPerWord()
	if spw < 1 {
		spw = 1
	}
	var wordsToLog uint64
	if s.SamplesToLog > 0 {
		wordsToLog = uint64(s.SamplesToLog) / uint64(spw)
		if wordsToLog == 0 {
			c.logf("Samples to log %d is less than one word, logging 1 word", s.SamplesToLog)
			wordsToLog = 1
		}
	}
	c.rate.Reset()

	err := c.trig.AtConfigure(trigger.Config{DelayedPeriod: s.DelayedTriggerPeriod, External: s.ExternalTrigger})
	if err != nil {
		return c.configFailure(err)
	}

	if err = c.board.ChannelDisableAll(); err != nil {
		return c.configFailure(err)
	}
	var channels []int
	for ch := 0; ch < c.board.Channels(); ch++ {
		if ch < len(s.ActiveChannels) && s.ActiveChannels[ch] {
			if err = c.board.SetChannelEnabled(ch, true); err != nil {
				return c.configFailure(err)
			}
			channels = append(channels, ch)
		}
	}

	freq, err := c.board.SetClock(ifc.ClockConfig{
		SampleSource:     s.SampleClockSource,
		SampleRateMHz:    s.SampleRateMHz,
		ExtClockSelect:   s.ExtClockSrcSelection,
		ReferenceSource:  s.ReferenceClockSource,
		ReferenceRateMHz: s.ReferenceRateMHz,
	})
	if err != nil {
		return c.configFailure(err)
	}
	c.logf("Actual PLL Frequency: %g", freq)

	if c.board.ActiveChannels() == 0 {
		c.host.Log("Error: Must enable at least one channel")
		return c.reject("no active channel")
	}

	r, err := c.newRun(s, channels, wordsToLog)
	if err != nil {
		return c.configFailure(err)
	}

	if err = c.configureBoard(s); err != nil {
		return c.configFailure(err)
	}

	if c.recorder != nil {
		if err = c.recorder.Start(); err != nil {
			return c.configFailure(err)
		}
	}

	c.run.Store(r)
	if err = c.trig.AtStreamStart(); err != nil {
		return c.configFailure(err)
	}
	// the first buffer may already reach the quota, everything the stop
	// sequence undoes is in place before the board starts
	c.setState(StateStreaming)
	c.startTimer()
	atomic.StoreInt32(&c.stopped, 0)
	if c.monitoring != nil {
		c.monitoring.Streaming(true)
	}
	if err = c.board.StartStream(); err != nil {
		if serr := c.stop(); serr != nil {
			log.Debug("Stop after failed start: %s", serr)
		}
		return c.configFailure(err)
	}
	c.host.Log("Stream Mode started")
	return nil
}

func (c *Controller) configFailure(err error) error {
	c.logf("Stream configuration failure: %s", err)
	if c.recorder != nil {
		if serr := c.recorder.Stop(); serr != nil {
			log.Debug("Stopping recorder: %s", serr)
		}
	}
	c.host.AfterStreamAutoStop()
	return errors.Wrap(err, "configuring stream")
}

func (c *Controller) newRun(s *config.Settings, channels []int, wordsToLog uint64) (*run, error) {
	capacity := sink.Capacity(wordsToLog, samplesPerWord, layers.VitaMaxPacketWords*demux.WordSize, s.UnboundedSinkSize)
	if capacity <= 0 {
		capacity = config.DefaultUnboundedSinkSize
	}
	r := &run{
		settings: s,
		channels: channels,
		sinks:    make(map[int]sink.Sink, len(channels)),
		quota:    demux.NewQuota(wordsToLog),
	}
	routes := make([]demux.Route, 0, len(channels))
	for _, ch := range channels {
		sk, err := c.allocator.Allocate(capacity)
		if err != nil {
			return nil, err
		}
		r.sinks[ch] = sk
		routes = append(routes, demux.Route{Channel: ch, StreamID: layers.ChannelStreamID(ch), Sink: sk})
	}
	r.demux = demux.New(routes, r.quota, demux.Options{
		LoggerEnable: s.LoggerEnable,
		OnTally: func(bytes int, words uint64) {
			c.tally(r, bytes)
		},
	})
	log.Debug("Words to log: %d, sink capacity %d samples, %d channels", wordsToLog, capacity, len(channels))
	return r, nil
}

func (c *Controller) configureBoard(s *config.Settings) error {
	if err := c.board.SetPacketSize(s.PacketSize, s.ForcePacketSize); err != nil {
		return err
	}
	if err := c.board.SetTestGenerator(s.TestCounterEnable, s.TestGenMode); err != nil {
		return err
	}
	if err := c.board.SetDecimation(s.Decimation()); err != nil {
		return err
	}
	err := c.board.SetTrigger(ifc.TriggerSetup{
		Framed:        s.Framed,
		Edge:          s.EdgeTrigger,
		FrameSize:     s.FrameSize,
		ExtSyncSource: s.ExtTriggerSrcSelection,
	})
	if err != nil {
		return err
	}
	delays, widths := s.PulseEvents()
	err = c.board.SetPulseTrigger(ifc.PulseSetup{
		Enable: s.Pulse.Enable,
		Period: s.Pulse.Period,
		Delays: delays,
		Widths: widths,
	})
	if err != nil {
		return err
	}
	return c.board.ConfigureAlerts(s.AlertEnable)
}

// StopStreaming stops the stream and returns without waiting for a data
// callback in flight, buffers delivered after it are discarded.
func (c *Controller) StopStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() < StateConnected {
		c.host.Log("Stream not connected! -- Open the boards")
		return ErrNotConnected{}
	}
	return c.stop()
}

// stop is shared by the control path and the data path and must not take c.mu
func (c *Controller) stop() error {
	err := c.board.StopStream()
	atomic.StoreInt32(&c.stopped, 1)
	c.stopTimer()
	if terr := c.trig.AtStreamStop(); terr != nil && err == nil {
		err = terr
	}
	if atomic.CompareAndSwapInt32(&c.state, int32(StateStreaming), int32(StateConnected)) {
		if c.monitoring != nil {
			c.monitoring.Streaming(false)
		}
		log.Debug("Stream stopped, session %s", c.Session())
	}
	return err
}

func (c *Controller) handleData(buf []byte) {
	if atomic.LoadInt32(&c.stopped) == 1 {
		if c.monitoring != nil {
			c.monitoring.Discarded()
		}
		return
	}
	r := c.run.Load()
	if r == nil {
		return
	}
	if c.recorder != nil {
		if err := c.recorder.Record(buf); err != nil {
			log.Error("Recording buffer: %s", err)
		}
	}

	out := r.demux.Process(buf)
	if c.monitoring != nil {
		c.monitoring.Processed(out.Packets, out.PerChannelBytes, out.Truncated, out.Unrouted)
	}
	if out.Unrouted {
		log.Debug("Unrouted stream id 0x%x", out.UnroutedID)
	}
	if out.SinkFull {
		if c.monitoring != nil {
			c.monitoring.SinkFull()
		}
		if atomic.CompareAndSwapInt32(&r.sinkFull, 0, 1) {
			c.host.Log("Channel sink full, dropping data")
		}
	}
	if out.Err != nil {
		c.logf("Stream aborted: %s", out.Err)
		if err := c.stop(); err != nil {
			log.Error("Stopping stream: %s", err)
		}
	}
}

func (c *Controller) tally(r *run, bytes int) {
	snap := c.rate.Tally(bytes, r.quota.Words(), r.quota.Limit(), c.clock.Now())
	if !snap.QuotaReached || !r.settings.AutoStop {
		return
	}
	if atomic.LoadInt32(&c.stopped) == 1 {
		return
	}
	if !atomic.CompareAndSwapInt32(&r.autoStopped, 0, 1) {
		return
	}
	if err := c.stop(); err != nil {
		log.Error("Auto stop: %s", err)
	}
	c.host.Log("Stream Mode Stopped automatically")
	if c.monitoring != nil {
		c.monitoring.AutoStop()
	}
}

// handleAfterStop runs on the board's producer goroutine once it has exited
func (c *Controller) handleAfterStop() {
	// the board may stop on its own, finish the stop sequence
	if c.State() == StateStreaming {
		if err := c.stop(); err != nil {
			log.Debug("Stop after board stop: %s", err)
		}
	}
	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			log.Error("Stopping recorder: %s", err)
		}
	}

	if r := c.run.Load(); r != nil {
		rec := &capture.Record{
			Target:  c.Target(),
			Session: c.Session(),
			Stopped: c.clock.Now(),
		}
		for _, ch := range r.channels {
			samples := r.sinks[ch].Samples()
			c.logf("Channel %d: %d samples", ch, len(samples))
			rec.Channels = append(rec.Channels, capture.ChannelCapture{
				Channel: ch,
				Summary: capture.Summarize(samples),
				Samples: samples,
			})
		}
		if c.captures != nil {
			if err := c.captures.Put(rec); err != nil {
				log.Error("Saving capture: %s", err)
			}
		}
	}
	c.host.Log("Analog I/O Stopped")
	c.host.AfterStreamAutoStop()
}

func (c *Controller) handleAlert(alert ifc.Alert) {
	switch alert.Kind {
	case ifc.AlertTrigger:
		c.logf("Trigger alert 0x%x on channel %d", alert.Value, alert.Channel)
		c.trig.ExternalTrigger()
	case ifc.AlertInputFifoOverrun:
		c.logf("Input FIFO overrun 0x%x", alert.Value)
		if err := c.trig.DisableTrigger(); err != nil {
			log.Error("Disabling trigger: %s", err)
		}
	default:
		c.logf("%s alert 0x%x", alert.Kind, alert.Value)
	}
	if c.monitoring != nil {
		c.monitoring.Alert(alert.Kind.String())
	}
}

// SoftwareAlert posts a software alert carrying value
func (c *Controller) SoftwareAlert(value uint32) error {
	if !c.IsOpen() {
		return ErrNotConnected{}
	}
	c.host.Log("Posting SW alert...")
	return c.board.SoftwareAlert(value)
}

// SoftwareTrigger asserts the software trigger of an armed stream
func (c *Controller) SoftwareTrigger() error {
	if !c.IsStreaming() {
		return ErrNotConnected{}
	}
	return c.trig.SoftwareTrigger()
}

func (c *Controller) TriggerState() trigger.State {
	return c.trig.State()
}

// BlockRate is the current throughput in MB/s
func (c *Controller) BlockRate() float64 {
	return c.rate.BlockRate()
}

// SampleCount is the number of samples admitted by the quota in the current run
func (c *Controller) SampleCount() int64 {
	r := c.run.Load()
	if r == nil {
		return 0
	}
	return int64(r.quota.Words()) * samplesPerWord
}

// Channel returns a copy of the samples stored for channel ch in the current run
func (c *Controller) Channel(ch int) ([]int16, bool) {
	r := c.run.Load()
	if r == nil {
		return nil, false
	}
	sk, ok := r.sinks[ch]
	if !ok {
		return nil, false
	}
	return sk.Samples(), true
}

func (c *Controller) Temperature() int {
	return c.board.Temperature()
}

func (c *Controller) PllLocked() bool {
	return c.board.PllLocked()
}

// Status describes the controller for the periodic status callback and the API
type Status struct {
	Target        int         `json:"target"`
	Session       string      `json:"session"`
	State         string      `json:"state"`
	Streaming     bool        `json:"streaming"`
	Trigger       string      `json:"trigger"`
	BlockRateMBps float64     `json:"blockRateMBps"`
	Words         uint64      `json:"words"`
	WordsToLog    uint64      `json:"wordsToLog"`
	SampleCount   int64       `json:"sampleCount"`
	Channels      map[int]int `json:"channels"`
	Temperature   int         `json:"temperature"`
	PllLocked     bool        `json:"pllLocked"`
}

func (c *Controller) Status() Status {
	st := Status{
		Target:        c.Target(),
		Session:       c.Session(),
		State:         c.State().String(),
		Streaming:     c.IsStreaming(),
		Trigger:       c.trig.State().String(),
		BlockRateMBps: c.BlockRate(),
		SampleCount:   c.SampleCount(),
		Channels:      map[int]int{},
	}
	if r := c.run.Load(); r != nil {
		st.Words = r.quota.Words()
		st.WordsToLog = r.quota.Limit()
		for ch, sk := range r.sinks {
			st.Channels[ch] = sk.Count()
		}
	}
	if c.IsOpen() {
		st.Temperature = c.board.Temperature()
		st.PllLocked = c.board.PllLocked()
	}
	return st
}

// Channels returns the channels of the current run in ascending order
func (c *Controller) Channels() []int {
	r := c.run.Load()
	if r == nil {
		return nil
	}
	out := append([]int(nil), r.channels...)
	sort.Ints(out)
	return out
}

func (c *Controller) startTimer() {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	if c.ticker != nil {
		return
	}
	t := c.clock.NewTicker(c.interval)
	done := make(chan struct{})
	c.ticker = t
	c.tickerDone = done
	go c.runTimer(t, done)
}

func (c *Controller) stopTimer() {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.tickerDone)
	c.ticker = nil
	c.tickerDone = nil
}

func (c *Controller) runTimer(t ratemon.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	st := c.Status()
	c.host.PeriodicStatus(st)
	if c.monitoring != nil {
		c.monitoring.BlockRate(st.BlockRateMBps)
	}
	if r := c.run.Load(); r != nil && st.WordsToLog > 0 {
		percent := int(st.Words * 100 / st.WordsToLog)
		if percent > 100 {
			percent = 100
		}
		if int32(percent) != atomic.SwapInt32(&r.progress, int32(percent)) {
			c.host.UpdateProgress(percent)
		}
	}
	if err := c.trig.AtTimerTick(); err != nil {
		log.Error("Delayed trigger: %s", err)
	}
}
