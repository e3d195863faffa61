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
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// VitaLayerNum identifies the layer
	VitaLayerNum = 2049
	// VitaHeaderWords is the number of 32-bit words in the packet header (word 0 + stream id)
	VitaHeaderWords = 2
	VitaHeaderSize  = VitaHeaderWords * 4
	// VitaMaxPacketWords is the largest size the 16-bit size field can hold
	VitaMaxPacketWords = 0xffff
	// StreamIDBase is the stream id of analog input channel 0
	StreamIDBase = 256
)

// LinkTypeVita is DLT_USER0, the link type of pcap captures of raw packet buffers
const LinkTypeVita = layers.LinkType(147)

func init() {
	layers.LinkTypeMetadata[LinkTypeVita] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(DecodeVitaLayer),
		Name:       "VITA",
		LayerType:  VitaLayerType,
	}
}

type VitaPacketType uint8

const (
	VitaIFDataNoSID VitaPacketType = iota
	VitaIFData
	VitaExtDataNoSID
	VitaExtData
	VitaIFContext
	VitaExtContext
)

var (
	// ErrTruncated means the buffer ends before the packet declared by the header
	ErrTruncated = errors.New("VITA packet truncated")
	// ErrCorruptHeader means the header was read but can not describe a packet carrying a stream id
	ErrCorruptHeader = errors.New("VITA packet header corrupt")
)

// HasStreamID reports whether packets of this type carry the stream id word
func (t VitaPacketType) HasStreamID() bool {
	switch t {
	case VitaIFData, VitaExtData, VitaIFContext, VitaExtContext:
		return true
	}
	return false
}

func (t VitaPacketType) String() string {
	switch t {
	case VitaIFDataNoSID:
		return "IFDataNoSID"
	case VitaIFData:
		return "IFData"
	case VitaExtDataNoSID:
		return "ExtDataNoSID"
	case VitaExtData:
		return "ExtData"
	case VitaIFContext:
		return "IFContext"
	case VitaExtContext:
		return "ExtContext"
	}
	return fmt.Sprintf("Reserved(%d)", uint8(t))
}

// ChannelStreamID returns the stream id the hardware uses for the analog input channel
func ChannelStreamID(channel int) uint32 {
	return StreamIDBase + uint32(channel)
}

// VitaHeader ... // 8 bytes
type VitaHeader struct {
	Type  VitaPacketType // 4 bits
	Flags uint8          // 4 bits
	Count uint8          // 4 bits, modulo 16 packet counter
	// Size is the packet length in 32-bit words including the header
	Size     uint16
	StreamID uint32
}

// DeclaredBytes is the packet length in bytes declared by the header
func (h *VitaHeader) DeclaredBytes() int {
	return int(h.Size) * 4
}

// Serialize VitaHeader ...
func (h *VitaHeader) Serialize(buf []byte) error {
	if len(buf) < VitaHeaderSize {
		return ErrTruncated
	}
	word := uint32(h.Type&0xf)<<28 | uint32(h.Flags&0xf)<<24 | uint32(h.Count&0xf)<<16 | uint32(h.Size)
	binary.LittleEndian.PutUint32(buf[0:4], word)
	binary.LittleEndian.PutUint32(buf[4:8], h.StreamID)
	return nil
}

// DecodeVitaHeader decodes the header at the beginning of data
func DecodeVitaHeader(data []byte) (VitaHeader, error) {
	if len(data) < VitaHeaderSize {
		return VitaHeader{}, ErrTruncated
	}
	word := binary.LittleEndian.Uint32(data[0:4])
	h := VitaHeader{
		Type:     VitaPacketType(word >> 28),
		Flags:    uint8(word>>24) & 0xf,
		Count:    uint8(word>>16) & 0xf,
		Size:     uint16(word & 0xffff),
		StreamID: binary.LittleEndian.Uint32(data[4:8]),
	}
	if !h.Type.HasStreamID() || h.Size < VitaHeaderWords {
		return h, ErrCorruptHeader
	}
	return h, nil
}

// VitaPacket is one framed sub-packet
type VitaPacket struct {
	VitaHeader
	// Payload is a view into the decoded buffer, it is not copied
	Payload []byte
}

// NewVitaPacket returns an IF data packet. Payload length must be a multiple of 4.
func NewVitaPacket(streamID uint32, count uint8, payload []byte) (*VitaPacket, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("VITA payload must be a multiple of 4 bytes, got %d", len(payload))
	}
	words := VitaHeaderWords + len(payload)/4
	if words > VitaMaxPacketWords {
		return nil, fmt.Errorf("VITA payload too long: %d bytes", len(payload))
	}
	return &VitaPacket{
		VitaHeader: VitaHeader{
			Type:     VitaIFData,
			Count:    count & 0xf,
			Size:     uint16(words),
			StreamID: streamID,
		},
		Payload: payload,
	}, nil
}

// Len is the serialized length in bytes
func (p *VitaPacket) Len() int {
	return p.DeclaredBytes()
}

// Serialize writes header and payload into buf which must hold Len() bytes
func (p *VitaPacket) Serialize(buf []byte) error {
	if len(buf) < p.Len() {
		return ErrTruncated
	}
	if err := p.VitaHeader.Serialize(buf); err != nil {
		return err
	}
	copy(buf[VitaHeaderSize:p.Len()], p.Payload)
	return nil
}

// DecodeVitaPacket decodes one packet at the beginning of data
func DecodeVitaPacket(data []byte) (*VitaPacket, error) {
	h, err := DecodeVitaHeader(data)
	if err != nil {
		return nil, err
	}
	if h.DeclaredBytes() > len(data) {
		return nil, ErrTruncated
	}
	return &VitaPacket{
		VitaHeader: h,
		Payload:    data[VitaHeaderSize:h.DeclaredBytes()],
	}, nil
}

// EncodeSamples packs samples as little-endian int16 payload
func EncodeSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// VitaLayer is a raw packet buffer: a sequence of VITA packets without a common header
type VitaLayer struct {
	layers.BaseLayer
	Packets []*VitaPacket
}

var VitaLayerType = gopacket.RegisterLayerType(VitaLayerNum,
	gopacket.LayerTypeMetadata{Name: "VitaLayerType", Decoder: gopacket.DecodeFunc(DecodeVitaLayer)})

// LayerType returns the type of the VITA layer in the layer catalog
func (v *VitaLayer) LayerType() gopacket.LayerType {
	return VitaLayerType
}

func (v *VitaLayer) CanDecode() gopacket.LayerClass {
	return VitaLayerType
}

func (v *VitaLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

// DecodeFromBytes decodes packets until the data is exhausted.
// Packets decoded before a truncated or corrupt one are kept.
func (v *VitaLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	v.BaseLayer = layers.BaseLayer{
		Contents: data,
		Payload:  []byte{},
	}
	v.Packets = v.Packets[:0]

	offset := 0
	for offset < len(data) {
		p, err := DecodeVitaPacket(data[offset:])
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				df.SetTruncated()
			}
			return err
		}
		v.Packets = append(v.Packets, p)
		offset += p.Len()
	}
	return nil
}

// SerializeTo serializes the VITA layer into bytes and writes the bytes to the SerializeBuffer
func (v *VitaLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	for _, p := range v.Packets {
		if opts.FixLengths {
			p.Size = uint16(VitaHeaderWords + len(p.Payload)/4)
		}
		bytes, err := b.AppendBytes(p.Len())
		if err != nil {
			return err
		}
		if err = p.Serialize(bytes); err != nil {
			return err
		}
	}
	return nil
}

func DecodeVitaLayer(data []byte, p gopacket.PacketBuilder) error {
	v := &VitaLayer{}
	err := v.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(v)
	return nil
}
