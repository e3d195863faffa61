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

// Package udp implements a board whose raw packet buffers arrive as UDP
// datagrams, one buffer per datagram.
package udp

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/layers"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

const (
	Model         = "X6-1000M udp"
	MaxDatagram   = 65536
	inQueueLength = 256
)

type InPacket struct {
	Data []byte
	gopacket.CaptureInfo
}

// source feeds received datagrams to a gopacket packet source
type source struct {
	ctx   context.Context
	chIn  chan InPacket
	errCh chan error
}

// ReadPacketData is from the PacketDataSource interface
func (s *source) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case p := <-s.chIn:
		return p.Data, p.CaptureInfo, nil
	case err := <-s.errCh:
		return nil, gopacket.CaptureInfo{}, err
	case <-s.ctx.Done():
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
}

type Board struct {
	*device.Device
	*net.UDPAddr
	// receives the bound socket address each time streaming starts
	localAddr chan net.Addr
}

var _ ifc.Board = &Board{}

func New(cfg *config.BoardConfig) (*Board, error) {
	log.Debug("Initializing udp board with address: %s port: %d", cfg.ListenAddress, cfg.ListenPort)

	uaddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort))
	if err != nil {
		return nil, err
	}
	p := device.DefaultParams(Model)
	if cfg.BoardCount > 0 {
		p.BoardCount = cfg.BoardCount
	}
	return &Board{
		Device:    device.NewDevice(p),
		UDPAddr:   uaddr,
		localAddr: make(chan net.Addr, 1),
	}, nil
}

func (b *Board) Open() error {
	return b.OpenDevice()
}

func (b *Board) StartStream() error {
	return b.StartProducer(b.produce)
}

// LocalAddr returns the bound socket address once the stream has started
func (b *Board) LocalAddr(timeout time.Duration) (net.Addr, error) {
	select {
	case addr := <-b.localAddr:
		return addr, nil
	case <-time.After(timeout):
		return nil, ifc.ErrDevice{What: "udp board is not listening"}
	}
}

func (b *Board) produce(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", b.UDPAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", b.UDPAddr)
	}
	select {
	case b.localAddr <- conn.LocalAddr():
	default:
	}

	src := &source{
		ctx:   ctx,
		chIn:  make(chan InPacket, inQueueLength),
		errCh: make(chan error, 1),
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// Read datagrams from wire and put them to input queue
	go func() {
		buffer := make([]byte, MaxDatagram)
		for {
			length, addr, readErr := conn.ReadFrom(buffer)
			if readErr != nil {
				if ctx.Err() == nil {
					src.errCh <- readErr
				}
				return
			}
			log.Debug("Received %d bytes from %s", length, addr)
			data := make([]byte, length)
			copy(data, buffer[:length])
			captureInfo := gopacket.CaptureInfo{
				Length:        length,
				CaptureLength: length,
				Timestamp:     time.Now(),
				AncillaryData: []interface{}{addr},
			}
			select {
			case src.chIn <- InPacket{Data: data, CaptureInfo: captureInfo}:
			case <-ctx.Done():
				return
			default:
				b.PostAlert(ifc.Alert{Kind: ifc.AlertInputFifoOverrun, Time: captureInfo.Timestamp})
				log.Warning("Input queue full, dropping datagram from %s", addr)
			}
		}
	}()

	// Read packets from input queue and hand them to the data handler
	packets := gopacket.NewPacketSource(src, layers.VitaLayerType)
	for {
		packet, err := packets.NextPacket()
		if err == io.EOF {
			return ctx.Err()
		}
		if err != nil {
			return errors.Wrap(err, "receiving datagram")
		}
		if !b.Triggered() {
			continue
		}
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Debug("Datagram does not decode cleanly: %s", errLayer.Error())
		}
		b.Emit(packet.Data())
	}
}
