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

type RegAlias int

const (
	RegDeviceCtrl RegAlias = iota
	RegRunStatus
	RegTarget
	RegBusMasterIn
	RegBusMasterOut
	RegChannelEnable
	RegClockCtrl
	RegClockFreqKHz
	RegReferenceFreqKHz
	RegTrigCtrl
	RegFrameSize
	RegPulseCtrl
	RegPulsePeriod
	RegPulseDelay1
	RegPulseWidth1
	RegPulseDelay2
	RegPulseWidth2
	RegDecimation
	RegPacketSize
	RegTestGenCtrl
	RegAlertEnable
	RegSoftwareAlert
	RegTemperature
	RegFwVer
	RegAliasLimit
)

var RegMap = map[RegAlias]uint16{
	RegDeviceCtrl:       0x40,
	RegRunStatus:        0x42,
	RegTarget:           0x44,
	RegBusMasterIn:      0x48,
	RegBusMasterOut:     0x49,
	RegChannelEnable:    0x100,
	RegClockCtrl:        0x110,
	RegClockFreqKHz:     0x111,
	RegReferenceFreqKHz: 0x112,
	RegTrigCtrl:         0x120,
	RegFrameSize:        0x121,
	RegPulseCtrl:        0x130,
	RegPulsePeriod:      0x131,
	RegPulseDelay1:      0x132,
	RegPulseWidth1:      0x133,
	RegPulseDelay2:      0x134,
	RegPulseWidth2:      0x135,
	RegDecimation:       0x140,
	RegPacketSize:       0x141,
	RegTestGenCtrl:      0x150,
	RegAlertEnable:      0x160,
	RegSoftwareAlert:    0x161,
	RegTemperature:      0x4B,
	RegFwVer:            0x4C,
}

var RegNames = map[RegAlias]string{
	RegDeviceCtrl:       "DeviceCtrl",
	RegRunStatus:        "RunStatus",
	RegTarget:           "Target",
	RegBusMasterIn:      "BusMasterIn",
	RegBusMasterOut:     "BusMasterOut",
	RegChannelEnable:    "ChannelEnable",
	RegClockCtrl:        "ClockCtrl",
	RegClockFreqKHz:     "ClockFreqKHz",
	RegReferenceFreqKHz: "ReferenceFreqKHz",
	RegTrigCtrl:         "TrigCtrl",
	RegFrameSize:        "FrameSize",
	RegPulseCtrl:        "PulseCtrl",
	RegPulsePeriod:      "PulsePeriod",
	RegPulseDelay1:      "PulseDelay1",
	RegPulseWidth1:      "PulseWidth1",
	RegPulseDelay2:      "PulseDelay2",
	RegPulseWidth2:      "PulseWidth2",
	RegDecimation:       "Decimation",
	RegPacketSize:       "PacketSize",
	RegTestGenCtrl:      "TestGenCtrl",
	RegAlertEnable:      "AlertEnable",
	RegSoftwareAlert:    "SoftwareAlert",
	RegTemperature:      "Temperature",
	RegFwVer:            "FwVer",
}

const (
	RegRunStatusBitRunning uint32 = 0x0010
	RegRunStatusBitPllLock uint32 = 0x0020
)

const (
	RegDeviceCtrlBitOpen uint32 = 0x0001
)

const (
	RegClockBitInternalSource    uint32 = 0x0001
	RegClockBitInternalReference uint32 = 0x0002
	RegClockBitP16Select         uint32 = 0x0004
)

const (
	RegTrigBitFramed   uint32 = 0x0001
	RegTrigBitEdge     uint32 = 0x0002
	RegTrigBitP16Sync  uint32 = 0x0004
	RegTrigBitExternal uint32 = 0x0010
	RegTrigBitSoftware uint32 = 0x0020
)

const (
	RegPulseBitEnable    uint32 = 0x0001
	RegPulseBitSecondary uint32 = 0x0002
)

const (
	RegTestGenBitCounter uint32 = 0x0001
	// test generator mode occupies bits 4..7
	RegTestGenModeShift = 4
)
