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

package capture

import (
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-x6/pkg/layers"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

// Snaplen is large enough for any raw packet buffer
const Snaplen = 1 << 24

// Recorder writes every raw packet buffer of a run to a pcap file.
// The file can be played back by the replay board.
type Recorder struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *pcapgo.Writer
	records int
}

func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

func (r *Recorder) Path() string {
	return r.path
}

// Start truncates the file and writes the pcap header
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		return nil
	}
	f, err := os.Create(r.path)
	if err != nil {
		return errors.Wrap(err, "creating record file")
	}
	w := pcapgo.NewWriter(f)
	if err = w.WriteFileHeader(Snaplen, layers.LinkTypeVita); err != nil {
		f.Close()
		return errors.Wrap(err, "writing record file header")
	}
	r.f = f
	r.w = w
	r.records = 0
	return nil
}

// Record appends one buffer, it is a no-op when the recorder is stopped
func (r *Recorder) Record(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(buf),
		Length:        len(buf),
	}
	if err := r.w.WritePacket(ci, buf); err != nil {
		return errors.Wrapf(err, "writing record %d", r.records)
	}
	r.records++
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	log.Info("Recorded %d buffers to %s", r.records, r.path)
	err := r.f.Close()
	r.f = nil
	r.w = nil
	return err
}

func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}
