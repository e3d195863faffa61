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

// Package vita walks raw packet buffers delivered by the board.
package vita

import (
	"jinr.ru/greenlab/go-x6/pkg/layers"
)

var (
	ErrTruncated     = layers.ErrTruncated
	ErrCorruptHeader = layers.ErrCorruptHeader
)

// FramedSubPacket is a view into a raw packet buffer
type FramedSubPacket struct {
	StreamID uint32
	// DeclaredSize is the packet length in bytes including the header
	DeclaredSize uint32
	Payload      []byte
}

// Cursor yields the packets of a buffer one at a time. It is forward only:
// once Next returns false it keeps returning false and a fresh cursor is
// needed to walk the buffer again.
type Cursor struct {
	buf    []byte
	offset int
	packet FramedSubPacket
	err    error
	done   bool
}

func NewCursor(buf []byte, offset int) *Cursor {
	c := &Cursor{buf: buf, offset: offset}
	if offset < 0 || offset > len(buf) {
		c.err = ErrTruncated
		c.done = true
	}
	return c
}

// Next advances to the next packet. It returns false at the end of the buffer
// or at the first packet that can not be framed, see Err.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	rest := c.buf[c.offset:]
	if len(rest) == 0 {
		c.stop(nil)
		return false
	}
	p, err := layers.DecodeVitaPacket(rest)
	if err != nil {
		c.stop(err)
		return false
	}
	c.packet = FramedSubPacket{
		StreamID:     p.StreamID,
		DeclaredSize: uint32(p.DeclaredBytes()),
		Payload:      p.Payload,
	}
	c.offset += p.DeclaredBytes()
	return true
}

func (c *Cursor) stop(err error) {
	c.done = true
	c.err = err
	c.packet = FramedSubPacket{}
}

// Packet returns the packet yielded by the last successful Next
func (c *Cursor) Packet() FramedSubPacket {
	return c.packet
}

// Offset is the number of bytes consumed through the last yielded packet
func (c *Cursor) Offset() int {
	return c.offset
}

// Err is nil when the buffer was exhausted cleanly
func (c *Cursor) Err() error {
	return c.err
}
