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

package vita

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/layers"
)

func packet(t *testing.T, streamID uint32, samples ...int16) []byte {
	p, err := layers.NewVitaPacket(streamID, 0, layers.EncodeSamples(samples))
	require.NoError(t, err)
	buf := make([]byte, p.Len())
	require.NoError(t, p.Serialize(buf))
	return buf
}

func concat(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func TestCursorWalksBuffer(t *testing.T) {
	buf := concat(packet(t, 256, 1, 2, 3, 4), packet(t, 257, 5, 6))
	c := NewCursor(buf, 0)

	require.True(t, c.Next())
	assert.Equal(t, uint32(256), c.Packet().StreamID)
	assert.Equal(t, uint32(16), c.Packet().DeclaredSize)
	assert.Len(t, c.Packet().Payload, 8)
	assert.Equal(t, 16, c.Offset())

	require.True(t, c.Next())
	assert.Equal(t, uint32(257), c.Packet().StreamID)
	assert.Equal(t, 28, c.Offset())

	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
	assert.False(t, c.Next())
}

func TestCursorStartOffset(t *testing.T) {
	first := packet(t, 256, 1, 2)
	buf := concat(first, packet(t, 257, 3, 4))
	c := NewCursor(buf, len(first))
	require.True(t, c.Next())
	assert.Equal(t, uint32(257), c.Packet().StreamID)
	assert.False(t, c.Next())
}

func TestCursorEmpty(t *testing.T) {
	c := NewCursor(nil, 0)
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestCursorBadOffset(t *testing.T) {
	c := NewCursor(make([]byte, 4), 8)
	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), ErrTruncated)
}

func TestCursorStopsAtInvalidPacket(t *testing.T) {
	good := packet(t, 256, 1, 2, 3, 4)
	oversized := packet(t, 257, 5, 6, 7, 8)
	// declare 100 words on a 4 word packet
	binary.LittleEndian.PutUint32(oversized[0:4], uint32(layers.VitaIFData)<<28|100)
	reserved := packet(t, 257, 5, 6)
	binary.LittleEndian.PutUint32(reserved[0:4], uint32(12)<<28|3)

	tests := []struct {
		name string
		buf  []byte
		err  error
	}{
		{"size past end", concat(good, oversized), ErrTruncated},
		{"partial header", concat(good, []byte{1, 2, 3}), ErrTruncated},
		{"reserved type", concat(good, reserved, good), ErrCorruptHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.buf, 0)
			require.True(t, c.Next())
			assert.Equal(t, len(good), c.Offset())
			assert.False(t, c.Next())
			assert.ErrorIs(t, c.Err(), tt.err)
			assert.Equal(t, len(good), c.Offset())
			assert.Nil(t, c.Packet().Payload)
			assert.False(t, c.Next())
		})
	}
}
