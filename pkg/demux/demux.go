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

// Package demux routes the packets of raw buffers to per channel sinks.
package demux

import (
	"fmt"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-x6/pkg/log"
	"jinr.ru/greenlab/go-x6/pkg/sink"
	"jinr.ru/greenlab/go-x6/pkg/vita"
)

// WordSize is the unit of the quota counter
const WordSize = 4

type Route struct {
	Channel  int
	StreamID uint32
	Sink     sink.Sink
}

type Options struct {
	// LoggerEnable gates all sink writes
	LoggerEnable bool
	// OnTally is called after every sink write with the payload bytes and words written
	OnTally func(bytes int, words uint64)
}

// Outcome describes one Process call
type Outcome struct {
	// BytesConsumed counts the bytes of every packet walked, written or skipped,
	// up to the point where processing stopped
	BytesConsumed   int
	PerChannelBytes map[int]int
	Packets         int
	// Truncated is set when the buffer ended in a packet that could not be framed
	Truncated bool
	// Unrouted is set when processing stopped at a packet with an unknown stream id
	Unrouted   bool
	UnroutedID uint32
	// SinkFull is set when an unlimited quota ran a sink out of capacity
	SinkFull bool
	Err      error
}

// Demux is built once per streaming session and used by the data path only
type Demux struct {
	routes map[uint32]Route
	quota  *Quota
	opts   Options
}

func New(routes []Route, quota *Quota, opts Options) *Demux {
	d := &Demux{
		routes: make(map[uint32]Route, len(routes)),
		quota:  quota,
		opts:   opts,
	}
	for _, r := range routes {
		d.routes[r.StreamID] = r
	}
	if d.quota == nil {
		d.quota = NewQuota(0)
	}
	return d
}

func (d *Demux) Quota() *Quota {
	return d.quota
}

// Process walks buf and writes every routed packet admitted by the quota.
// An unknown stream id ends processing of buf, the packet is not consumed.
func (d *Demux) Process(buf []byte) Outcome {
	out := Outcome{PerChannelBytes: make(map[int]int, len(d.routes))}
	cursor := vita.NewCursor(buf, 0)
	for cursor.Next() {
		p := cursor.Packet()
		route, ok := d.routes[p.StreamID]
		if !ok {
			log.Debug("Stream id %d is not routed, skipping rest of buffer at offset %d", p.StreamID, out.BytesConsumed)
			out.Unrouted = true
			out.UnroutedID = p.StreamID
			return out
		}
		if d.opts.LoggerEnable && d.quota.Open() {
			if err := d.write(route, p.Payload, &out); err != nil {
				out.Err = err
				return out
			}
		}
		out.Packets++
		out.BytesConsumed = cursor.Offset()
	}
	if err := cursor.Err(); err != nil {
		log.Debug("Buffer processing stopped at offset %d: %s", out.BytesConsumed, err)
		out.Truncated = true
	}
	return out
}

func (d *Demux) write(route Route, payload []byte, out *Outcome) error {
	if _, err := route.Sink.Write(payload); err != nil {
		if d.quota.Limit() == 0 {
			out.SinkFull = true
			return nil
		}
		return violation("channel %d: %d payload bytes with %d samples remaining, quota %d/%d words: %s",
			route.Channel, len(payload), route.Sink.Remaining(), d.quota.Words(), d.quota.Limit(), err)
	}
	words := uint64(len(payload) / WordSize)
	d.quota.Add(words)
	out.PerChannelBytes[route.Channel] += len(payload)
	if d.opts.OnTally != nil {
		d.opts.OnTally(len(payload), words)
	}
	return nil
}

func violation(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if debugAssertions {
		panic(ErrQuotaOverflow.Error() + ": " + msg)
	}
	err := errors.WithMessage(ErrQuotaOverflow, msg)
	log.Error("%s", err)
	return err
}
