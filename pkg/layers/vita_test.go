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

package layers

import (
	"encoding/binary"
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVitaHeaderWord(t *testing.T) {
	h := VitaHeader{Type: VitaIFData, Flags: 0x2, Count: 0x5, Size: 6, StreamID: 257}
	buf := make([]byte, VitaHeaderSize)
	require.NoError(t, h.Serialize(buf))

	assert.Equal(t, uint32(0x12050006), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(257), binary.LittleEndian.Uint32(buf[4:8]))

	decoded, err := DecodeVitaHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
	assert.Equal(t, 24, decoded.DeclaredBytes())
}

func TestDecodeVitaHeaderErrors(t *testing.T) {
	word := func(typ VitaPacketType, size uint16) []byte {
		buf := make([]byte, VitaHeaderSize)
		binary.LittleEndian.PutUint32(buf, uint32(typ)<<28|uint32(size))
		return buf
	}
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"short", []byte{1, 2, 3}, ErrTruncated},
		{"no stream id", word(VitaIFDataNoSID, 4), ErrCorruptHeader},
		{"ext no stream id", word(VitaExtDataNoSID, 4), ErrCorruptHeader},
		{"reserved", word(VitaPacketType(9), 4), ErrCorruptHeader},
		{"size below header", word(VitaIFData, 1), ErrCorruptHeader},
		{"context", word(VitaIFContext, 2), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeVitaHeader(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVitaLayerSerializeDecode(t *testing.T) {
	p0, err := NewVitaPacket(ChannelStreamID(0), 0, EncodeSamples([]int16{1, -2, 3, -4}))
	require.NoError(t, err)
	p1, err := NewVitaPacket(ChannelStreamID(1), 1, EncodeSamples([]int16{5, 6}))
	require.NoError(t, err)

	buf := gopacket.NewSerializeBuffer()
	layer := &VitaLayer{Packets: []*VitaPacket{p0, p1}}
	require.NoError(t, layer.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))
	data := buf.Bytes()
	require.Len(t, data, 16+12)

	packet := gopacket.NewPacket(data, VitaLayerType, gopacket.Default)
	require.Nil(t, packet.ErrorLayer())
	decoded, ok := packet.Layer(VitaLayerType).(*VitaLayer)
	require.True(t, ok)
	require.Len(t, decoded.Packets, 2)
	assert.Equal(t, uint32(256), decoded.Packets[0].StreamID)
	assert.Equal(t, uint32(257), decoded.Packets[1].StreamID)
	assert.Equal(t, EncodeSamples([]int16{5, 6}), decoded.Packets[1].Payload)
	assert.Equal(t, uint8(1), decoded.Packets[1].Count)
}

func TestVitaLayerTruncated(t *testing.T) {
	p, err := NewVitaPacket(ChannelStreamID(0), 0, EncodeSamples([]int16{1, 2, 3, 4}))
	require.NoError(t, err)
	data := make([]byte, p.Len())
	require.NoError(t, p.Serialize(data))

	layer := &VitaLayer{}
	err = layer.DecodeFromBytes(append(data, data[:10]...), gopacket.NilDecodeFeedback)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Len(t, layer.Packets, 1)
}

func TestNewVitaPacketOddPayload(t *testing.T) {
	_, err := NewVitaPacket(ChannelStreamID(0), 0, []byte{1, 2})
	assert.Error(t, err)
}
