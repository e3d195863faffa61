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

// Package sim implements a board that synthesizes VITA packet buffers.
package sim

import (
	"context"
	"math"
	"time"

	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/layers"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

const (
	Model           = "X6-1000M sim"
	DefaultInterval = time.Millisecond
	// ticks arriving later than this many intervals count as an input FIFO overrun
	overrunIntervals = 8
	amplitude        = 8192
	period           = 64
	temperature      = 45
)

type Option func(b *Board)

// WithInterval sets the time between two generated buffers
func WithInterval(interval time.Duration) Option {
	return func(b *Board) {
		b.interval = interval
	}
}

type Board struct {
	*device.Device
	interval time.Duration
	count    uint8
	sample   []int
}

var _ ifc.Board = &Board{}

func New(cfg *config.BoardConfig, opts ...Option) *Board {
	p := device.DefaultParams(Model)
	if cfg != nil && cfg.BoardCount > 0 {
		p.BoardCount = cfg.BoardCount
	}
	b := &Board{
		Device:   device.NewDevice(p),
		interval: DefaultInterval,
		sample:   make([]int, p.Channels),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Board) Open() error {
	b.SetTemperature(temperature)
	return b.OpenDevice()
}

func (b *Board) StartStream() error {
	for i := range b.sample {
		b.sample[i] = 0
	}
	return b.StartProducer(b.produce)
}

func (b *Board) produce(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if now.Sub(last) > overrunIntervals*b.interval {
				b.PostAlert(ifc.Alert{Kind: ifc.AlertInputFifoOverrun, Time: now})
			}
			last = now
			if !b.Triggered() {
				continue
			}
			buf, err := b.Buffer()
			if err != nil {
				return err
			}
			if buf != nil {
				b.Emit(buf)
			}
		}
	}
}

// Buffer builds one raw packet buffer with a packet for every enabled channel
func (b *Board) Buffer() ([]byte, error) {
	channels := b.EnabledChannels()
	if len(channels) == 0 {
		return nil, nil
	}
	size := b.PacketSize()
	if size == 0 {
		size = config.DefaultPacketSize
	}
	payload := (size/len(channels) - layers.VitaHeaderSize) &^ 3
	if payload < 4 {
		payload = 4
	}
	if limit := (layers.VitaMaxPacketWords - layers.VitaHeaderWords) * 4; payload > limit {
		payload = limit
	}

	vita := &layers.VitaLayer{}
	for _, ch := range channels {
		samples := b.samples(ch, payload/2)
		p, err := layers.NewVitaPacket(layers.ChannelStreamID(ch), b.count, layers.EncodeSamples(samples))
		if err != nil {
			return nil, err
		}
		vita.Packets = append(vita.Packets, p)
		b.count++
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, vita); err != nil {
		log.Error("Error while serializing VITA layer: %s", err)
		return nil, err
	}
	return buf.Bytes(), nil
}

// samples returns the test counter ramp or a sine wave, decimation skips samples
func (b *Board) samples(ch, n int) []int16 {
	step := b.Decimation()
	if step < 1 {
		step = 1
	}
	counter := b.TestCounter()
	out := make([]int16, n)
	for i := range out {
		k := b.sample[ch]
		if counter {
			out[i] = int16(k)
		} else {
			phase := 2 * math.Pi * float64(k) / period
			out[i] = int16(amplitude * math.Sin(phase+float64(ch)*math.Pi/2))
		}
		b.sample[ch] += step
	}
	return out
}
