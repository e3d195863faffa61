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

package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/layers"
)

func TestReceiveDatagrams(t *testing.T) {
	b, err := New(&config.BoardConfig{ListenAddress: "127.0.0.1", ListenPort: 0})
	require.NoError(t, err)
	require.NoError(t, b.Open())
	defer b.Close()

	received := make(chan []byte, 4)
	stopped := make(chan struct{})
	b.OnDataAvailable(func(buf []byte) { received <- append([]byte(nil), buf...) })
	b.OnAfterStop(func() { close(stopped) })
	require.NoError(t, b.SetSoftwareTrigger(true))
	require.NoError(t, b.StartStream())

	addr, err := b.LocalAddr(time.Second)
	require.NoError(t, err)
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	p, err := layers.NewVitaPacket(layers.ChannelStreamID(0), 0, layers.EncodeSamples([]int16{1, 2, 3, 4}))
	require.NoError(t, err)
	datagram := make([]byte, p.Len())
	require.NoError(t, p.Serialize(datagram))
	_, err = conn.Write(datagram)
	require.NoError(t, err)

	select {
	case buf := <-received:
		assert.Equal(t, datagram, buf)
	case <-time.After(time.Second):
		t.Fatal("datagram not delivered")
	}

	require.NoError(t, b.StopStream())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("after stop handler not called")
	}
}

func TestNewBadAddress(t *testing.T) {
	_, err := New(&config.BoardConfig{ListenAddress: "not an address", ListenPort: 1})
	assert.Error(t, err)
}
