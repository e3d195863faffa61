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

package stream

import (
	"sync"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/log"
)

// Host is the application embedding the controller. Log receives the user
// visible messages, GetSettings is read when the board is opened and when
// streaming starts.
type Host interface {
	Log(message string)
	GetSettings() *config.Settings
	AfterStreamAutoStop()
	UpdateProgress(percent int)
	PeriodicStatus(status Status)
}

// LogHost forwards messages to the package logger and serves a fixed copy
// of the settings
type LogHost struct {
	mu       sync.RWMutex
	settings *config.Settings
	status   Status
	progress int
	stops    int
}

func NewLogHost(settings *config.Settings) *LogHost {
	if settings == nil {
		settings = config.NewDefaultSettings()
	}
	return &LogHost{settings: settings.Clone()}
}

func (h *LogHost) Log(message string) {
	log.Info("%s", message)
}

func (h *LogHost) GetSettings() *config.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings.Clone()
}

// SetSettings replaces the settings used by the next Open or StartStreaming
func (h *LogHost) SetSettings(settings *config.Settings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings.Clone()
}

func (h *LogHost) AfterStreamAutoStop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
	log.Debug("Stream finished")
}

func (h *LogHost) UpdateProgress(percent int) {
	h.mu.Lock()
	h.progress = percent
	h.mu.Unlock()
	log.Debug("Progress: %d%%", percent)
}

func (h *LogHost) PeriodicStatus(status Status) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	log.Debug("Status: rate %.3f MB/s, %d samples", status.BlockRateMBps, status.SampleCount)
}

// Progress returns the last reported percentage of the sample quota
func (h *LogHost) Progress() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.progress
}

// Stops returns how many times a stream has finished
func (h *LogHost) Stops() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stops
}
