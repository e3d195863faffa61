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

// Package replay implements a board that plays back a pcap capture of raw
// packet buffers, one record per buffer.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

const (
	Model = "X6-1000M replay"
	// triggerPoll is how often the producer checks the trigger before it fires
	triggerPoll = time.Millisecond
)

type Board struct {
	*device.Device
	path string
}

var _ ifc.Board = &Board{}

func New(cfg *config.BoardConfig) *Board {
	p := device.DefaultParams(Model)
	if cfg.BoardCount > 0 {
		p.BoardCount = cfg.BoardCount
	}
	return &Board{
		Device: device.NewDevice(p),
		path:   cfg.ReplayFile,
	}
}

// Open checks that the capture file can be read before opening the device
func (b *Board) Open() error {
	f, reader, err := b.openFile()
	if err != nil {
		return err
	}
	log.Info("Replay file %s: link type %s snaplen %d", b.path, reader.LinkType(), reader.Snaplen())
	f.Close()
	return b.OpenDevice()
}

func (b *Board) openFile() (*os.File, *pcapgo.Reader, error) {
	if b.path == "" {
		return nil, nil, ifc.ErrDevice{What: "replay file is not configured"}
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, nil, ifc.ErrDevice{What: fmt.Sprintf("can not open replay file: %s", err)}
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, ifc.ErrDevice{What: fmt.Sprintf("replay file %s is not a pcap capture: %s", b.path, err)}
	}
	return f, reader, nil
}

// StartStream plays the file from the beginning
func (b *Board) StartStream() error {
	return b.StartProducer(b.produce)
}

func (b *Board) produce(ctx context.Context) error {
	f, reader, err := b.openFile()
	if err != nil {
		return err
	}
	defer f.Close()

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	records := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !b.Triggered() {
			time.Sleep(triggerPoll)
			continue
		}
		packet, err := source.NextPacket()
		if err == io.EOF {
			log.Info("Replay of %s complete: %d buffers", b.path, records)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading record %d of %s", records, b.path)
		}
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Debug("Record %d does not decode cleanly: %s", records, errLayer.Error())
		}
		records++
		b.Emit(packet.Data())
	}
}
