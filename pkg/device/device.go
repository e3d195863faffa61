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

// Package device holds the register cache and stream machinery shared by
// the board implementations.
package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

const (
	Meg = 1024 * 1024
	// BusMasterGranularity is the allocation unit of the incoming bus master region
	BusMasterGranularity = 4 * Meg
	// PllStepHz is the resolution of the sample clock PLL
	PllStepHz       = 1000.0
	MinPacketSize   = 16
	alertQueueDepth = 64
)

// Params describe the capabilities of a board model
type Params struct {
	Model            string
	Channels         int
	MaxSampleRateHz  float64
	FrameGranularity int
	SamplesPerWord   int
	BoardCount       int
	Info             ifc.Info
}

func DefaultParams(model string) Params {
	return Params{
		Model:            model,
		Channels:         config.AnalogInChannels,
		MaxSampleRateHz:  config.MaxInRateMHz * 1e6,
		FrameGranularity: 16,
		SamplesPerWord:   2,
		BoardCount:       1,
		Info: ifc.Info{
			Model:           model,
			LogicVersion:    0x0105,
			LogicSubVersion: 0x0002,
			FpgaType:        0x0240,
			PciLogicVersion: 0x0201,
		},
	}
}

type Reg struct {
	Alias RegAlias `json:"-"`
	Name  string   `json:"name"`
	Addr  uint16   `json:"addr"`
	Value uint32   `json:"value"`
}

// Device caches the board registers and runs the stream producer.
// Board implementations embed it and provide Open and StartStream.
type Device struct {
	Params

	mu       sync.Mutex
	regs     map[RegAlias]uint32
	target   int
	opened   bool
	pulse    ifc.PulseSetup
	alerts   []bool
	freqHz   float64
	pllLock  bool
	onData   ifc.DataHandler
	onStop   ifc.AfterStopHandler
	onAlert  ifc.AlertHandler
	cancel   context.CancelFunc
	done     chan struct{}
	alertCh  chan ifc.Alert
	alertEnd chan struct{}
}

func NewDevice(p Params) *Device {
	if p.BoardCount < 1 {
		p.BoardCount = 1
	}
	d := &Device{
		Params: p,
		regs:   make(map[RegAlias]uint32, RegAliasLimit),
		alerts: make([]bool, config.AnalogInAlerts),
	}
	d.regs[RegFwVer] = p.Info.LogicVersion
	return d
}

// OpenDevice marks the device open and starts alert delivery
func (d *Device) OpenDevice() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	d.opened = true
	d.regs[RegDeviceCtrl] |= RegDeviceCtrlBitOpen
	d.alertCh = make(chan ifc.Alert, alertQueueDepth)
	d.alertEnd = make(chan struct{})
	go d.dispatchAlerts(d.alertCh, d.alertEnd)
	log.Debug("%s: target %d opened", d.Model, d.target)
	return nil
}

// Close stops the stream, waits for the producer and closes the device
func (d *Device) Close() error {
	if err := d.StopStream(); err != nil {
		return err
	}
	d.Wait()

	d.mu.Lock()
	if !d.opened {
		d.mu.Unlock()
		return nil
	}
	d.opened = false
	d.regs[RegDeviceCtrl] &^= RegDeviceCtrlBitOpen
	close(d.alertCh)
	end := d.alertEnd
	d.mu.Unlock()

	<-end
	return nil
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *Device) requireOpen() error {
	if !d.opened {
		return ifc.ErrNotOpen{}
	}
	return nil
}

// Reset clears the configuration registers, target and bus master sizes survive
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	keep := map[RegAlias]uint32{}
	for _, alias := range []RegAlias{RegDeviceCtrl, RegTarget, RegBusMasterIn, RegBusMasterOut, RegFwVer} {
		keep[alias] = d.regs[alias]
	}
	d.regs = keep
	d.pulse = ifc.PulseSetup{}
	d.alerts = make([]bool, config.AnalogInAlerts)
	d.pllLock = false
	return nil
}

func (d *Device) BoardCount() int {
	return d.Params.BoardCount
}

func (d *Device) SetTarget(target int) error {
	if target < 0 || target >= d.Params.BoardCount {
		return ifc.ErrDevice{What: fmt.Sprintf("target %d not present, %d board(s) installed", target, d.Params.BoardCount)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
	d.regs[RegTarget] = uint32(target)
	return nil
}

func (d *Device) Target() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *Device) SetBusMasterSizes(in, out int) error {
	if in <= 0 || in%BusMasterGranularity != 0 {
		return ifc.ErrDevice{What: fmt.Sprintf("incoming bus master size %d is not a multiple of %d", in, BusMasterGranularity)}
	}
	if out <= 0 {
		return ifc.ErrDevice{What: fmt.Sprintf("invalid outgoing bus master size %d", out)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegBusMasterIn] = uint32(in / Meg)
	d.regs[RegBusMasterOut] = uint32(out / Meg)
	return nil
}

func (d *Device) Channels() int {
	return d.Params.Channels
}

func (d *Device) ChannelDisableAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegChannelEnable] = 0
	return nil
}

func (d *Device) SetChannelEnabled(channel int, enable bool) error {
	if channel < 0 || channel >= d.Params.Channels {
		return ifc.ErrDevice{What: fmt.Sprintf("channel %d out of range", channel)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if enable {
		d.regs[RegChannelEnable] |= 1 << uint(channel)
	} else {
		d.regs[RegChannelEnable] &^= 1 << uint(channel)
	}
	return nil
}

func (d *Device) ActiveChannels() int {
	return len(d.EnabledChannels())
}

// EnabledChannels returns the enabled channel numbers in ascending order
func (d *Device) EnabledChannels() []int {
	d.mu.Lock()
	mask := d.regs[RegChannelEnable]
	d.mu.Unlock()
	var channels []int
	for ch := 0; ch < d.Params.Channels; ch++ {
		if mask&(1<<uint(ch)) != 0 {
			channels = append(channels, ch)
		}
	}
	return channels
}

func (d *Device) SetClock(cfg ifc.ClockConfig) (float64, error) {
	rate := cfg.SampleRateMHz * 1e6
	if rate <= 0 || rate > d.MaxSampleRateHz {
		return 0, ifc.ErrDevice{What: fmt.Sprintf("sample rate %.3f MHz out of range", cfg.SampleRateMHz)}
	}
	if cfg.ReferenceRateMHz <= 0 {
		return 0, ifc.ErrDevice{What: fmt.Sprintf("reference rate %.3f MHz out of range", cfg.ReferenceRateMHz)}
	}
	var ctrl uint32
	if cfg.SampleSource == config.SourceInternal {
		ctrl |= RegClockBitInternalSource
	}
	if cfg.ReferenceSource == config.SourceInternal {
		ctrl |= RegClockBitInternalReference
	}
	if cfg.ExtClockSelect == config.SelectP16 {
		ctrl |= RegClockBitP16Select
	}
	actual := math.Round(rate/PllStepHz) * PllStepHz

	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegClockCtrl] = ctrl
	d.regs[RegClockFreqKHz] = uint32(actual / 1e3)
	d.regs[RegReferenceFreqKHz] = uint32(cfg.ReferenceRateMHz * 1e3)
	d.regs[RegRunStatus] |= RegRunStatusBitPllLock
	d.freqHz = actual
	d.pllLock = true
	return actual, nil
}

func (d *Device) SetTrigger(setup ifc.TriggerSetup) error {
	if setup.Framed && (setup.FrameSize <= 0 || setup.FrameSize%d.FrameGranularity != 0) {
		return ifc.ErrDevice{What: fmt.Sprintf("frame size %d is not a multiple of %d", setup.FrameSize, d.FrameGranularity)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ctrl := d.regs[RegTrigCtrl] & (RegTrigBitExternal | RegTrigBitSoftware)
	if setup.Framed {
		ctrl |= RegTrigBitFramed
	}
	if setup.Edge {
		ctrl |= RegTrigBitEdge
	}
	if setup.ExtSyncSource == config.SelectP16 {
		ctrl |= RegTrigBitP16Sync
	}
	d.regs[RegTrigCtrl] = ctrl
	d.regs[RegFrameSize] = uint32(setup.FrameSize)
	return nil
}

func (d *Device) SetPulseTrigger(setup ifc.PulseSetup) error {
	if len(setup.Delays) != len(setup.Widths) || len(setup.Delays) == 0 || len(setup.Delays) > 2 {
		return ifc.ErrDevice{What: fmt.Sprintf("pulse trigger takes one or two delay/width pairs, got %d/%d",
			len(setup.Delays), len(setup.Widths))}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var ctrl uint32
	if setup.Enable {
		ctrl |= RegPulseBitEnable
	}
	d.regs[RegPulsePeriod] = uint32(setup.Period)
	d.regs[RegPulseDelay1] = uint32(setup.Delays[0])
	d.regs[RegPulseWidth1] = uint32(setup.Widths[0])
	d.regs[RegPulseDelay2] = 0
	d.regs[RegPulseWidth2] = 0
	if len(setup.Delays) == 2 {
		ctrl |= RegPulseBitSecondary
		d.regs[RegPulseDelay2] = uint32(setup.Delays[1])
		d.regs[RegPulseWidth2] = uint32(setup.Widths[1])
	}
	d.regs[RegPulseCtrl] = ctrl
	d.pulse = setup
	return nil
}

func (d *Device) PulseSetup() ifc.PulseSetup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulse
}

func (d *Device) SetTestGenerator(counterEnable bool, mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ctrl uint32
	if counterEnable {
		ctrl |= RegTestGenBitCounter
	}
	ctrl |= uint32(mode&0xf) << RegTestGenModeShift
	d.regs[RegTestGenCtrl] = ctrl
	return nil
}

// TestCounter reports whether the ramp test counter replaces ADC data
func (d *Device) TestCounter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[RegTestGenCtrl]&RegTestGenBitCounter != 0
}

func (d *Device) SetDecimation(factor int) error {
	if factor < 0 {
		return ifc.ErrDevice{What: fmt.Sprintf("invalid decimation factor %d", factor)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegDecimation] = uint32(factor)
	return nil
}

func (d *Device) Decimation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.regs[RegDecimation])
}

// SetPacketSize sets the size in bytes of the raw buffers the board delivers
func (d *Device) SetPacketSize(size int, force bool) error {
	if size < MinPacketSize || size%4 != 0 {
		return ifc.ErrDevice{What: fmt.Sprintf("invalid packet size %d", size)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegPacketSize] = uint32(size)
	return nil
}

func (d *Device) PacketSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.regs[RegPacketSize])
}

func (d *Device) ConfigureAlerts(enable []bool) error {
	if len(enable) > config.AnalogInAlerts {
		return ifc.ErrDevice{What: fmt.Sprintf("%d alerts configured, board has %d", len(enable), config.AnalogInAlerts)}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var mask uint32
	d.alerts = make([]bool, config.AnalogInAlerts)
	for i, on := range enable {
		d.alerts[i] = on
		if on {
			mask |= 1 << uint(i)
		}
	}
	d.regs[RegAlertEnable] = mask
	return nil
}

func (d *Device) SoftwareAlert(value uint32) error {
	d.mu.Lock()
	if err := d.requireOpen(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.regs[RegSoftwareAlert] = value
	d.mu.Unlock()
	d.PostAlert(ifc.Alert{Kind: ifc.AlertSoftware, Value: value, Time: time.Now()})
	return nil
}

func (d *Device) SetExternalTrigger(enable bool) error {
	return d.setTrigBit(RegTrigBitExternal, enable)
}

func (d *Device) SetSoftwareTrigger(assert bool) error {
	return d.setTrigBit(RegTrigBitSoftware, assert)
}

func (d *Device) setTrigBit(bit uint32, on bool) error {
	d.mu.Lock()
	was := d.regs[RegTrigCtrl]&(RegTrigBitExternal|RegTrigBitSoftware) != 0
	if on {
		d.regs[RegTrigCtrl] |= bit
	} else {
		d.regs[RegTrigCtrl] &^= bit
	}
	now := d.regs[RegTrigCtrl]&(RegTrigBitExternal|RegTrigBitSoftware) != 0
	d.mu.Unlock()
	if now && !was {
		d.PostAlert(ifc.Alert{Kind: ifc.AlertTrigger, Time: time.Now()})
	}
	return nil
}

// Triggered reports whether the acquisition trigger is active
func (d *Device) Triggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[RegTrigCtrl]&(RegTrigBitExternal|RegTrigBitSoftware) != 0
}

func (d *Device) MaxSampleRate() float64 {
	return d.MaxSampleRateHz
}

func (d *Device) TriggerFrameGranularity() int {
	return d.FrameGranularity
}

func (d *Device) SamplesPerWord() int {
	return d.Params.SamplesPerWord
}

func (d *Device) SetTemperature(celsius int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[RegTemperature] = uint32(celsius)
}

func (d *Device) Temperature() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.regs[RegTemperature])
}

func (d *Device) PllLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pllLock
}

func (d *Device) Info() ifc.Info {
	return d.Params.Info
}

// RegReadAll returns the register cache sorted by address
func (d *Device) RegReadAll() []*Reg {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := make([]*Reg, 0, len(d.regs))
	for alias, value := range d.regs {
		regs = append(regs, &Reg{Alias: alias, Name: RegNames[alias], Addr: RegMap[alias], Value: value})
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Addr < regs[j].Addr })
	return regs
}

func (d *Device) RegRead(alias RegAlias) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[alias]
}

func (d *Device) OnDataAvailable(handler ifc.DataHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onData = handler
}

func (d *Device) OnAfterStop(handler ifc.AfterStopHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStop = handler
}

func (d *Device) OnAlert(handler ifc.AlertHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAlert = handler
}

// Emit delivers one raw buffer to the data handler. It must be called from the producer.
func (d *Device) Emit(buf []byte) {
	d.mu.Lock()
	handler := d.onData
	d.mu.Unlock()
	if handler != nil {
		handler(buf)
	}
}

// PostAlert queues an alert if it is enabled. Alerts are dropped when the queue is full.
func (d *Device) PostAlert(alert ifc.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened || int(alert.Kind) >= len(d.alerts) || !d.alerts[alert.Kind] {
		return
	}
	select {
	case d.alertCh <- alert:
	default:
		log.Warning("%s: alert queue full, dropping %s alert", d.Model, alert.Kind)
	}
}

func (d *Device) dispatchAlerts(ch <-chan ifc.Alert, end chan<- struct{}) {
	defer close(end)
	for alert := range ch {
		d.mu.Lock()
		handler := d.onAlert
		d.mu.Unlock()
		if handler != nil {
			handler(alert)
		}
	}
}

// Producer runs until ctx is done or its data source is exhausted
type Producer func(ctx context.Context) error

// StartProducer runs produce on a new goroutine. When produce returns the
// run status is cleared and the after stop handler is called on that goroutine.
func (d *Device) StartProducer(produce Producer) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return ifc.ErrDevice{What: "stream already running"}
	}
	prev := d.done
	d.mu.Unlock()
	// the previous producer may still be running its after stop handler
	if prev != nil {
		<-prev
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	if d.cancel != nil {
		return ifc.ErrDevice{What: "stream already running"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.regs[RegRunStatus] |= RegRunStatusBitRunning

	go func() {
		defer close(done)
		err := produce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("%s: stream producer stopped: %s", d.Model, err)
		}
		d.mu.Lock()
		d.regs[RegRunStatus] &^= RegRunStatusBitRunning
		d.cancel = nil
		handler := d.onStop
		d.mu.Unlock()
		cancel()
		if handler != nil {
			handler()
		}
	}()
	return nil
}

// StopStream cancels the producer without waiting for it
func (d *Device) StopStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// Wait blocks until the last producer has exited
func (d *Device) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[RegRunStatus]&RegRunStatusBitRunning != 0
}
