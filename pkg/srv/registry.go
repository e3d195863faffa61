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

package srv

import (
	"fmt"
	"sort"
	"sync"

	"jinr.ru/greenlab/go-x6/pkg/capture"
	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device/boards"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/log"
	"jinr.ru/greenlab/go-x6/pkg/metrics"
	"jinr.ru/greenlab/go-x6/pkg/sink"
	"jinr.ru/greenlab/go-x6/pkg/stream"
)

// BoardFactory creates the hardware collaborator of one target
type BoardFactory func(cfg *config.BoardConfig) (ifc.Board, error)

type controller struct {
	*stream.Controller
	host       *stream.LogHost
	monitoring *metrics.Monitoring
}

// Registry owns the stream controllers, one per open target
type Registry struct {
	*config.Config
	newBoard BoardFactory
	store    *capture.Store

	mu          sync.Mutex
	controllers map[int]*controller
	settings    map[int]*config.Settings
}

// NewRegistry opens the capture store when a database path is configured
func NewRegistry(cfg *config.Config, newBoard BoardFactory) (*Registry, error) {
	if newBoard == nil {
		newBoard = boards.NewBoard
	}
	r := &Registry{
		Config:      cfg,
		newBoard:    newBoard,
		controllers: map[int]*controller{},
		settings:    map[int]*config.Settings{},
	}
	if cfg.CaptureConfig != nil && cfg.CaptureConfig.DBPath != "" {
		store, err := capture.NewStore(cfg.CaptureConfig.DBPath)
		if err != nil {
			return nil, err
		}
		r.store = store
	}
	return r, nil
}

// targetSettings must be called with r.mu held
func (r *Registry) targetSettings(target int) *config.Settings {
	s, ok := r.settings[target]
	if !ok {
		if r.Config.Settings != nil {
			s = r.Config.Settings.Clone()
		} else {
			s = config.NewDefaultSettings()
		}
		s.Target = target
		r.settings[target] = s
	}
	return s
}

func (r *Registry) get(target int) (*controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[target]
	if !ok {
		return nil, ErrTargetNotFound{Target: target}
	}
	return c, nil
}

func recordPath(file string, target int) string {
	if target == 0 {
		return file
	}
	return fmt.Sprintf("%s.%d", file, target)
}

// Open creates the controller of target and opens its board. Opening an
// open target does nothing.
func (r *Registry) Open(target int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controllers[target]; ok {
		return nil
	}

	board, err := r.newBoard(r.BoardConfig)
	if err != nil {
		return err
	}
	placement := ""
	if r.CaptureConfig != nil {
		placement = r.CaptureConfig.Placement
	}
	allocator, err := sink.NewAllocator(placement)
	if err != nil {
		return err
	}

	host := stream.NewLogHost(r.targetSettings(target))
	monitoring := metrics.New(target)
	opts := []stream.Option{
		stream.WithAllocator(allocator),
		stream.WithMonitoring(monitoring),
	}
	if r.store != nil {
		opts = append(opts, stream.WithCaptureWriter(r.store))
	}
	if r.CaptureConfig != nil && r.CaptureConfig.RecordFile != "" {
		opts = append(opts, stream.WithRecorder(capture.NewRecorder(recordPath(r.CaptureConfig.RecordFile, target))))
	}

	c := &controller{
		Controller: stream.New(board, host, opts...),
		host:       host,
		monitoring: monitoring,
	}
	if err = c.Open(); err != nil {
		return err
	}
	r.controllers[target] = c
	monitoring.Streaming(false)
	log.Info("Target %d opened, session %s", target, c.Session())
	return nil
}

// Close closes the board of target and forgets its controller
func (r *Registry) Close(target int) error {
	r.mu.Lock()
	c, ok := r.controllers[target]
	delete(r.controllers, target)
	r.mu.Unlock()
	if !ok {
		return ErrTargetNotFound{Target: target}
	}
	err := c.Close()
	c.monitoring.Clear()
	return err
}

func (r *Registry) CloseAll() {
	for _, target := range r.Targets() {
		if err := r.Close(target); err != nil {
			log.Error("Closing target %d: %s", target, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			log.Error("Closing capture store: %s", err)
		}
	}
}

// Targets returns the open targets in ascending order
func (r *Registry) Targets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]int, 0, len(r.controllers))
	for target := range r.controllers {
		targets = append(targets, target)
	}
	sort.Ints(targets)
	return targets
}

func (r *Registry) Start(target int) error {
	c, err := r.get(target)
	if err != nil {
		return err
	}
	return c.StartStreaming()
}

func (r *Registry) Stop(target int) error {
	c, err := r.get(target)
	if err != nil {
		return err
	}
	return c.StopStreaming()
}

func (r *Registry) Status(target int) (stream.Status, error) {
	c, err := r.get(target)
	if err != nil {
		return stream.Status{}, err
	}
	return c.Status(), nil
}

func (r *Registry) Alert(target int, value uint32) error {
	c, err := r.get(target)
	if err != nil {
		return err
	}
	return c.SoftwareAlert(value)
}

func (r *Registry) Trigger(target int) error {
	c, err := r.get(target)
	if err != nil {
		return err
	}
	return c.SoftwareTrigger()
}

// Channel returns the samples stored for channel ch by the current run of target
func (r *Registry) Channel(target, ch int) ([]int16, error) {
	c, err := r.get(target)
	if err != nil {
		return nil, err
	}
	samples, ok := c.Channel(ch)
	if !ok {
		return nil, fmt.Errorf("channel %d is not active", ch)
	}
	return samples, nil
}

// Settings returns a copy of the settings used by the next start of target
func (r *Registry) Settings(target int) *config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetSettings(target).Clone()
}

// SetParameter updates one setting of target, it takes effect at the next start
func (r *Registry) SetParameter(target int, name string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.targetSettings(target).Clone()
	if err := s.SetParameter(name, value); err != nil {
		return err
	}
	s.Target = target
	r.settings[target] = s
	if c, ok := r.controllers[target]; ok {
		c.host.SetSettings(s)
	}
	return nil
}

// Capture returns the last capture stored for target
func (r *Registry) Capture(target int, withSamples bool) (*capture.Record, error) {
	if r.store == nil {
		return nil, ErrNoCaptureStore{}
	}
	return r.store.Get(target, withSamples)
}

// BoardCount returns the number of boards the configured board type sees
func (r *Registry) BoardCount() (int, error) {
	board, err := r.newBoard(r.BoardConfig)
	if err != nil {
		return 0, err
	}
	return board.BoardCount(), nil
}
