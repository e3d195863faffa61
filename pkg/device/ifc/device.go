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

package ifc

import (
	"fmt"
	"time"
)

// DataHandler receives one raw packet buffer. The buffer is only valid
// for the duration of the call.
type DataHandler func(buf []byte)

type AfterStopHandler func()

type AlertHandler func(alert Alert)

type AlertKind int

const (
	AlertTimestamp AlertKind = iota
	AlertSoftware
	AlertTemperature
	AlertInputFifoOverrun
	AlertTrigger
	AlertInputOverrange
)

func (k AlertKind) String() string {
	switch k {
	case AlertTimestamp:
		return "Timestamp"
	case AlertSoftware:
		return "Software"
	case AlertTemperature:
		return "Temperature"
	case AlertInputFifoOverrun:
		return "Input FIFO Overflow"
	case AlertTrigger:
		return "Trigger"
	case AlertInputOverrange:
		return "Input Overrange"
	}
	return fmt.Sprintf("Alert(%d)", int(k))
}

type Alert struct {
	Kind    AlertKind
	Channel int
	Value   uint32
	Time    time.Time
}

type ClockConfig struct {
	SampleSource     int
	SampleRateMHz    float64
	ExtClockSelect   int
	ReferenceSource  int
	ReferenceRateMHz float64
}

type TriggerSetup struct {
	Framed        bool
	Edge          bool
	FrameSize     int
	ExtSyncSource int
}

// PulseSetup holds up to two delay/width pairs
type PulseSetup struct {
	Enable bool
	Period float64
	Delays []float64
	Widths []float64
}

type Info struct {
	Model           string `json:"model"`
	Serial          string `json:"serial"`
	LogicVersion    uint32 `json:"logicVersion"`
	LogicSubVersion uint32 `json:"logicSubVersion"`
	FpgaType        uint32 `json:"fpgaType"`
	PciLogicVersion uint32 `json:"pciLogicVersion"`
}

// Board is the hardware collaborator of the stream controller. Handlers are
// registered once per event kind and called on the board's producer goroutine.
type Board interface {
	Open() error
	Close() error
	Reset() error
	BoardCount() int
	SetTarget(target int) error
	SetBusMasterSizes(in, out int) error

	Channels() int
	ChannelDisableAll() error
	SetChannelEnabled(channel int, enable bool) error
	ActiveChannels() int

	// SetClock routes clock and reference and returns the actual PLL frequency in Hz
	SetClock(cfg ClockConfig) (float64, error)
	SetTrigger(setup TriggerSetup) error
	SetPulseTrigger(setup PulseSetup) error
	SetTestGenerator(counterEnable bool, mode int) error
	// SetDecimation programs the decimation factor, 0 disables it
	SetDecimation(factor int) error
	SetPacketSize(size int, force bool) error
	ConfigureAlerts(enable []bool) error
	SoftwareAlert(value uint32) error
	SetExternalTrigger(enable bool) error
	SetSoftwareTrigger(assert bool) error

	// MaxSampleRate is in Hz
	MaxSampleRate() float64
	TriggerFrameGranularity() int
	SamplesPerWord() int
	Temperature() int
	PllLocked() bool
	Info() Info

	OnDataAvailable(handler DataHandler)
	OnAfterStop(handler AfterStopHandler)
	OnAlert(handler AlertHandler)

	StartStream() error
	// StopStream requests the producer to stop and returns without waiting
	// for a data callback in flight. The after stop handler is called once
	// the producer has exited.
	StopStream() error
	// Wait blocks until the last producer has exited and its after stop
	// handler has returned
	Wait()
}
