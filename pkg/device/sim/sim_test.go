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

package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/vita"
)

func openBoard(t *testing.T) *Board {
	b := New(&config.BoardConfig{BoardCount: 1}, WithInterval(time.Millisecond))
	require.NoError(t, b.Open())
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.SetChannelEnabled(0, true))
	require.NoError(t, b.SetChannelEnabled(1, true))
	require.NoError(t, b.SetPacketSize(64, false))
	return b
}

func TestBufferLayout(t *testing.T) {
	b := openBoard(t)
	require.NoError(t, b.SetTestGenerator(true, 0))

	buf, err := b.Buffer()
	require.NoError(t, err)
	require.Len(t, buf, 64)

	c := vita.NewCursor(buf, 0)
	require.True(t, c.Next())
	assert.Equal(t, uint32(256), c.Packet().StreamID)
	assert.Len(t, c.Packet().Payload, 24)
	require.True(t, c.Next())
	assert.Equal(t, uint32(257), c.Packet().StreamID)
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestBufferNoChannels(t *testing.T) {
	b := openBoard(t)
	require.NoError(t, b.ChannelDisableAll())
	buf, err := b.Buffer()
	require.NoError(t, err)
	assert.Nil(t, buf)
}

func TestStreamGatedByTrigger(t *testing.T) {
	b := openBoard(t)

	var mu sync.Mutex
	buffers := 0
	stopped := make(chan struct{})
	b.OnDataAvailable(func(buf []byte) {
		mu.Lock()
		buffers++
		mu.Unlock()
	})
	b.OnAfterStop(func() { close(stopped) })

	require.NoError(t, b.StartStream())
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, buffers)
	mu.Unlock()

	require.NoError(t, b.SetSoftwareTrigger(true))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return buffers > 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.StopStream())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("after stop handler not called")
	}
	assert.False(t, b.Running())
}

func TestSoftwareAlertDelivered(t *testing.T) {
	b := openBoard(t)
	alerts := make(chan ifc.Alert, 1)
	b.OnAlert(func(a ifc.Alert) { alerts <- a })

	require.NoError(t, b.SoftwareAlert(7))
	select {
	case <-alerts:
		t.Fatal("disabled alert delivered")
	case <-time.After(20 * time.Millisecond):
	}

	enable := make([]bool, config.AnalogInAlerts)
	enable[ifc.AlertSoftware] = true
	require.NoError(t, b.ConfigureAlerts(enable))
	require.NoError(t, b.SoftwareAlert(7))
	select {
	case a := <-alerts:
		assert.Equal(t, ifc.AlertSoftware, a.Kind)
		assert.Equal(t, uint32(7), a.Value)
	case <-time.After(time.Second):
		t.Fatal("alert not delivered")
	}
}
