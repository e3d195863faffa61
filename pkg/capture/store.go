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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"jinr.ru/greenlab/go-x6/pkg/log"
)

const (
	BucketNamePrefix = "target_"
	metaKey          = "meta"
	channelKeyPrefix = "ch_"
)

type ChannelCapture struct {
	Channel int     `json:"channel"`
	Summary Summary `json:"summary"`
	Samples []int16 `json:"samples,omitempty"`
}

// Record is the data captured by one streaming run
type Record struct {
	Target   int              `json:"target"`
	Session  string           `json:"session"`
	Stopped  time.Time        `json:"stopped"`
	Channels []ChannelCapture `json:"channels"`
}

// Store keeps the last capture of every target
type Store struct {
	DB *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening capture database %s", path)
	}
	return &Store{DB: db}, nil
}

func bucketName(target int) []byte {
	return []byte(fmt.Sprintf("%s%d", BucketNamePrefix, target))
}

func channelKey(channel int) []byte {
	return []byte(fmt.Sprintf("%s%02d", channelKeyPrefix, channel))
}

func encodeSamples(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func decodeSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Put replaces the capture stored for rec.Target
func (s *Store) Put(rec *Record) error {
	log.Debug("Storing capture: target: %d session: %s channels: %d", rec.Target, rec.Session, len(rec.Channels))
	meta := *rec
	meta.Channels = make([]ChannelCapture, len(rec.Channels))
	for i, ch := range rec.Channels {
		meta.Channels[i] = ChannelCapture{Channel: ch.Channel, Summary: ch.Summary}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return s.DB.Update(func(tx *bbolt.Tx) error {
		name := bucketName(rec.Target)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(metaKey), metaBytes); err != nil {
			return err
		}
		for _, ch := range rec.Channels {
			if err := b.Put(channelKey(ch.Channel), encodeSamples(ch.Samples)); err != nil {
				return errors.Wrapf(err, "storing channel %d", ch.Channel)
			}
		}
		return nil
	})
}

// Get returns the last capture of the target, samples are included when withSamples is set
func (s *Store) Get(target int, withSamples bool) (*Record, error) {
	rec := &Record{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(target))
		if b == nil {
			return ErrCaptureNotFound{Target: target}
		}
		metaBytes := b.Get([]byte(metaKey))
		if metaBytes == nil {
			return ErrCaptureNotFound{Target: target}
		}
		if err := json.Unmarshal(metaBytes, rec); err != nil {
			return errors.Wrap(err, "decoding capture metadata")
		}
		if !withSamples {
			return nil
		}
		for i := range rec.Channels {
			if raw := b.Get(channelKey(rec.Channels[i].Channel)); raw != nil {
				rec.Channels[i].Samples = decodeSamples(raw)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Targets lists the targets with a stored capture
func (s *Store) Targets() ([]int, error) {
	var targets []int
	err := s.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			var target int
			if _, err := fmt.Sscanf(string(name), BucketNamePrefix+"%d", &target); err == nil {
				targets = append(targets, target)
			}
			return nil
		})
	})
	return targets, err
}
