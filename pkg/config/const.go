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

package config

const (
	ConfigDir  = ".go-x6"
	ConfigFile = "config"
	DBFile     = "capture.db"

	DefaultApiAddress = "127.0.0.1"
	DefaultApiPort    = 8000
	DefaultLogLevel   = "info"

	BoardTypeSim    = "sim"
	BoardTypeReplay = "replay"
	BoardTypeUDP    = "udp"

	DefaultBoardType        = BoardTypeSim
	DefaultUDPListenAddress = "0.0.0.0"
	DefaultUDPListenPort    = 33301

	PlacementHost    = "host"
	DefaultPlacement = PlacementHost

	// Defaults below follow the INI defaults of the acquisition application
	AnalogInChannels          = 2
	AnalogInAlerts            = 6
	MaxInRateMHz              = 1000.0
	DefaultBusMasterSizeMB    = 16
	DefaultPacketSize         = 0x10000
	DefaultSampleRateMHz      = MaxInRateMHz
	DefaultReferenceRateMHz   = 10.0
	DefaultFrameSize          = 0x4000
	DefaultDelayedTrigger     = 2
	DefaultSamplesToLog       = 0100000
	DefaultPulsePeriod        = 10.0e6
	DefaultPulseWidth         = 1.0e6
	DefaultDecimationFactor   = 1
	DefaultUnboundedSinkSize  = 1 << 20
	DefaultStatusIntervalMsec = 1000
)

// Clock, reference and trigger source selections
const (
	SourceExternal = 0
	SourceInternal = 1

	SelectFrontPanel = 0
	SelectP16        = 1
)
