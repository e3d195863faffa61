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

package config

// PulseSettings configures the pulse trigger generator.
// The second delay/width pair is used only when both values are non-zero.
type PulseSettings struct {
	Enable bool    `json:"enable"`
	Period float64 `json:"period"`
	Delay  float64 `json:"delay"`
	Width  float64 `json:"width"`
	Delay2 float64 `json:"delay2"`
	Width2 float64 `json:"width2"`
}

// Settings is the streaming configuration. The controller takes a copy of it
// when streaming starts and never mutates it afterwards.
type Settings struct {
	Target          int    `json:"target"`
	BusMasterSizeMB int    `json:"busMasterSizeMB"`
	ActiveChannels  []bool `json:"activeChannels"`
	PacketSize      int    `json:"packetSize"`
	ForcePacketSize bool   `json:"forcePacketSize"`

	SampleClockSource    int     `json:"sampleClockSource"`
	SampleRateMHz        float64 `json:"sampleRateMHz"`
	ExtClockSrcSelection int     `json:"extClockSrcSelection"`
	ReferenceClockSource int     `json:"referenceClockSource"`
	ReferenceRateMHz     float64 `json:"referenceRateMHz"`

	TestCounterEnable bool   `json:"testCounterEnable"`
	TestGenMode       int    `json:"testGenMode"`
	AlertEnable       []bool `json:"alertEnable"`
	DecimationEnable  bool   `json:"decimationEnable"`
	DecimationFactor  int    `json:"decimationFactor"`

	ExternalTrigger        bool          `json:"externalTrigger"`
	EdgeTrigger            bool          `json:"edgeTrigger"`
	Framed                 bool          `json:"framed"`
	FrameSize              int           `json:"frameSize"`
	ExtTriggerSrcSelection int           `json:"extTriggerSrcSelection"`
	DelayedTriggerPeriod   int           `json:"delayedTriggerPeriod"`
	Pulse                  PulseSettings `json:"pulse"`

	LoggerEnable bool  `json:"loggerEnable"`
	SamplesToLog int64 `json:"samplesToLog"`
	AutoStop     bool  `json:"autoStop"`
	// UnboundedSinkSize is the per channel capacity in samples used when SamplesToLog is 0
	UnboundedSinkSize int `json:"unboundedSinkSize"`
}

func NewDefaultSettings() *Settings {
	s := &Settings{
		Target:               0,
		BusMasterSizeMB:      DefaultBusMasterSizeMB,
		ActiveChannels:       make([]bool, AnalogInChannels),
		PacketSize:           DefaultPacketSize,
		SampleClockSource:    SourceInternal,
		SampleRateMHz:        DefaultSampleRateMHz,
		ExtClockSrcSelection: SelectFrontPanel,
		ReferenceClockSource: SourceInternal,
		ReferenceRateMHz:     DefaultReferenceRateMHz,
		AlertEnable:          make([]bool, AnalogInAlerts),
		DecimationFactor:     DefaultDecimationFactor,
		FrameSize:            DefaultFrameSize,
		DelayedTriggerPeriod: DefaultDelayedTrigger,
		Pulse: PulseSettings{
			Period: DefaultPulsePeriod,
			Width:  DefaultPulseWidth,
		},
		LoggerEnable:      true,
		SamplesToLog:      DefaultSamplesToLog,
		AutoStop:          true,
		UnboundedSinkSize: DefaultUnboundedSinkSize,
	}
	for i := range s.ActiveChannels {
		s.ActiveChannels[i] = true
	}
	return s
}

// Sanitize applies the same corrections as the settings loader of the
// acquisition application: negative target becomes 0 and channel 0 is
// enabled when no channel is.
func (s *Settings) Sanitize() {
	if s == nil {
		return
	}
	if s.Target < 0 {
		s.Target = 0
	}
	if len(s.ActiveChannels) == 0 {
		s.ActiveChannels = make([]bool, AnalogInChannels)
	}
	if s.EnabledChannels() == 0 {
		s.ActiveChannels[0] = true
	}
	if s.UnboundedSinkSize <= 0 {
		s.UnboundedSinkSize = DefaultUnboundedSinkSize
	}
}

// EnabledChannels returns the number of channels marked active
func (s *Settings) EnabledChannels() int {
	count := 0
	for _, active := range s.ActiveChannels {
		if active {
			count++
		}
	}
	return count
}

// Clone returns a deep copy
func (s *Settings) Clone() *Settings {
	c := *s
	c.ActiveChannels = append([]bool(nil), s.ActiveChannels...)
	c.AlertEnable = append([]bool(nil), s.AlertEnable...)
	return &c
}

// BusMasterSizes returns the incoming and outgoing bus master sizes in bytes.
// The incoming size is rounded down to a multiple of 4 MB, at least 4 MB.
func (s *Settings) BusMasterSizes() (int, int) {
	const meg = 1024 * 1024
	size := s.BusMasterSizeMB / 4
	if size < 1 {
		size = 1
	}
	return size * 4 * meg, 1 * meg
}

// PulseEvents returns the delay/width pairs to program into the pulse generator
func (s *Settings) PulseEvents() ([]float64, []float64) {
	delays := []float64{s.Pulse.Delay}
	widths := []float64{s.Pulse.Width}
	if s.Pulse.Delay2 != 0 && s.Pulse.Width2 != 0 {
		delays = append(delays, s.Pulse.Delay2)
		widths = append(widths, s.Pulse.Width2)
	}
	return delays, widths
}

// Decimation returns the decimation factor to program, 0 disables decimation
func (s *Settings) Decimation() int {
	if s.DecimationEnable {
		return s.DecimationFactor
	}
	return 0
}

// SetParameter updates one setting by name. It mirrors the parameter setter
// exposed to scripting hosts.
func (s *Settings) SetParameter(name string, value float64) error {
	switch name {
	case "frameSize":
		s.FrameSize = int(value)
	case "sampleRate":
		s.SampleRateMHz = value
	case "samplesToLog":
		s.SamplesToLog = int64(value)
	case "clock":
		s.ReferenceClockSource = int(value)
	case "target":
		s.Target = int(value)
	case "autoStop":
		s.AutoStop = value != 0
	default:
		return ErrInvalidSettings{What: "unknown parameter " + name}
	}
	return nil
}
