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
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/layers"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]int16{1, 2, 3, 4})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, 1.2909944, s.StdDev, 1e-6)

	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, 0.0, Summarize([]int16{-5}).StdDev)
}

func TestStorePutGet(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "db", "capture.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(0, true)
	assert.Equal(t, ErrCaptureNotFound{Target: 0}, err)

	rec := &Record{
		Target:  0,
		Session: "session-1",
		Stopped: time.Unix(1700000000, 0).UTC(),
		Channels: []ChannelCapture{
			{Channel: 0, Samples: []int16{1, -2, 3}, Summary: Summarize([]int16{1, -2, 3})},
			{Channel: 1, Samples: []int16{}, Summary: Summary{}},
		},
	}
	require.NoError(t, store.Put(rec))

	got, err := store.Get(0, true)
	require.NoError(t, err)
	assert.Equal(t, "session-1", got.Session)
	assert.True(t, rec.Stopped.Equal(got.Stopped))
	require.Len(t, got.Channels, 2)
	assert.Equal(t, []int16{1, -2, 3}, got.Channels[0].Samples)
	assert.Equal(t, 3, got.Channels[0].Summary.Count)
	assert.Empty(t, got.Channels[1].Samples)

	meta, err := store.Get(0, false)
	require.NoError(t, err)
	assert.Nil(t, meta.Channels[0].Samples)

	rec.Session = "session-2"
	rec.Channels = rec.Channels[:1]
	require.NoError(t, store.Put(rec))
	got, err = store.Get(0, true)
	require.NoError(t, err)
	assert.Equal(t, "session-2", got.Session)
	assert.Len(t, got.Channels, 1)

	targets, err := store.Targets()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, targets)
}

func TestRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pcap")
	r := NewRecorder(path)
	require.NoError(t, r.Record([]byte{1, 2, 3, 4}))
	assert.Equal(t, 0, r.Records())

	require.NoError(t, r.Start())
	require.NoError(t, r.Record([]byte{1, 2, 3, 4}))
	require.NoError(t, r.Record([]byte{5, 6, 7, 8, 9, 10, 11, 12}))
	assert.Equal(t, 2, r.Records())
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	reader, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeVita, reader.LinkType())
	data, _, err := reader.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	data, _, err = reader.ReadPacketData()
	require.NoError(t, err)
	assert.Len(t, data, 8)
}
