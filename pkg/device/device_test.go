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

package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
)

func openDevice(t *testing.T) *Device {
	d := NewDevice(DefaultParams("test"))
	require.NoError(t, d.OpenDevice())
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSetTarget(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetTarget(0))
	err := d.SetTarget(1)
	assert.IsType(t, ifc.ErrDevice{}, err)
}

func TestSetBusMasterSizes(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetBusMasterSizes(16*Meg, Meg))
	assert.Equal(t, uint32(16), d.RegRead(RegBusMasterIn))
	assert.Error(t, d.SetBusMasterSizes(6*Meg, Meg))
}

func TestChannelEnables(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetChannelEnabled(1, true))
	assert.Equal(t, []int{1}, d.EnabledChannels())
	assert.Equal(t, 1, d.ActiveChannels())
	require.NoError(t, d.ChannelDisableAll())
	assert.Equal(t, 0, d.ActiveChannels())
	assert.Error(t, d.SetChannelEnabled(2, true))
}

func TestSetClock(t *testing.T) {
	d := openDevice(t)
	actual, err := d.SetClock(ifc.ClockConfig{SampleRateMHz: 500.0004, ReferenceRateMHz: 10})
	require.NoError(t, err)
	assert.Equal(t, 500.0e6, actual)
	assert.True(t, d.PllLocked())

	_, err = d.SetClock(ifc.ClockConfig{SampleRateMHz: 1500, ReferenceRateMHz: 10})
	assert.Error(t, err)
}

func TestSetTriggerGranularity(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetTrigger(ifc.TriggerSetup{Framed: true, FrameSize: 0x4000}))
	assert.Error(t, d.SetTrigger(ifc.TriggerSetup{Framed: true, FrameSize: 100}))
	require.NoError(t, d.SetTrigger(ifc.TriggerSetup{Framed: false, FrameSize: 100}))
}

func TestSetPulseTrigger(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetPulseTrigger(ifc.PulseSetup{Enable: true, Period: 10, Delays: []float64{1, 2}, Widths: []float64{3, 4}}))
	assert.Equal(t, RegPulseBitEnable|RegPulseBitSecondary, d.RegRead(RegPulseCtrl))
	assert.Equal(t, uint32(4), d.RegRead(RegPulseWidth2))
	assert.Error(t, d.SetPulseTrigger(ifc.PulseSetup{Delays: []float64{1}}))
}

func TestResetKeepsTarget(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetBusMasterSizes(8*Meg, Meg))
	require.NoError(t, d.SetChannelEnabled(0, true))
	require.NoError(t, d.Reset())
	assert.Equal(t, uint32(8), d.RegRead(RegBusMasterIn))
	assert.Equal(t, 0, d.ActiveChannels())
}

func TestRegReadAllSorted(t *testing.T) {
	d := openDevice(t)
	require.NoError(t, d.SetDecimation(4))
	regs := d.RegReadAll()
	require.NotEmpty(t, regs)
	for i := 1; i < len(regs); i++ {
		assert.Less(t, regs[i-1].Addr, regs[i].Addr)
	}
}

func TestProducerLifecycle(t *testing.T) {
	d := openDevice(t)
	stopped := 0
	d.OnAfterStop(func() { stopped++ })
	started := make(chan struct{})

	require.NoError(t, d.StartProducer(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	assert.True(t, d.Running())
	assert.Error(t, d.StartProducer(func(ctx context.Context) error { return nil }))

	require.NoError(t, d.StopStream())
	d.Wait()
	assert.False(t, d.Running())
	assert.Equal(t, 1, stopped)

	require.NoError(t, d.StopStream())
	assert.Equal(t, 1, stopped)
}

func TestStartProducerRequiresOpen(t *testing.T) {
	d := NewDevice(DefaultParams("test"))
	err := d.StartProducer(func(ctx context.Context) error { return nil })
	assert.Equal(t, ifc.ErrNotOpen{}, err)
}
