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

// Package trigger maps stream lifecycle and timer events to trigger enables.
package trigger

import (
	"sync"

	"jinr.ru/greenlab/go-x6/pkg/log"
)

type State int

const (
	Idle State = iota
	Armed
	Triggered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Triggered:
		return "triggered"
	}
	return "unknown"
}

// Hooks is the part of the board the coordinator drives
type Hooks interface {
	SetExternalTrigger(enable bool) error
	SetSoftwareTrigger(assert bool) error
}

// Config is copied at stream start
type Config struct {
	// DelayedPeriod is the number of status ticks between stream start and the trigger
	DelayedPeriod int
	// External enables the external trigger input instead of asserting the software trigger
	External bool
}

// Coordinator is safe for use from the control, timer and board goroutines
type Coordinator struct {
	mu        sync.Mutex
	hooks     Hooks
	cfg       Config
	state     State
	pending   bool
	countdown int
}

func New(hooks Hooks) *Coordinator {
	return &Coordinator{hooks: hooks}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AtConfigure disables both trigger sources and arms the coordinator
func (c *Coordinator) AtConfigure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.pending = false
	c.set(Armed)
	if err := c.hooks.SetExternalTrigger(false); err != nil {
		return err
	}
	return c.hooks.SetSoftwareTrigger(false)
}

// AtStreamStart starts the delayed trigger countdown, a zero period fires at once
func (c *Coordinator) AtStreamStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Armed {
		return nil
	}
	c.pending = true
	c.countdown = c.cfg.DelayedPeriod
	if c.countdown <= 0 {
		return c.fire()
	}
	return nil
}

func (c *Coordinator) AtTimerTick() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return nil
	}
	c.countdown--
	if c.countdown <= 0 {
		return c.fire()
	}
	return nil
}

func (c *Coordinator) fire() error {
	c.pending = false
	c.set(Triggered)
	if c.cfg.External {
		return c.hooks.SetExternalTrigger(true)
	}
	return c.hooks.SetSoftwareTrigger(true)
}

// ExternalTrigger records a trigger event seen by the hardware
func (c *Coordinator) ExternalTrigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Armed {
		c.pending = false
		c.set(Triggered)
	}
}

// SoftwareTrigger asserts the software trigger level. It stays set until the next AtConfigure.
func (c *Coordinator) SoftwareTrigger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Armed {
		return nil
	}
	c.pending = false
	c.set(Triggered)
	return c.hooks.SetSoftwareTrigger(true)
}

// DisableTrigger handles hardware initiated disables such as an input overrun
func (c *Coordinator) DisableTrigger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.set(Idle)
	return c.hooks.SetExternalTrigger(false)
}

// AtStreamStop is a no-op when already idle
func (c *Coordinator) AtStreamStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return nil
	}
	c.pending = false
	c.set(Idle)
	return c.hooks.SetExternalTrigger(false)
}

func (c *Coordinator) set(s State) {
	if c.state != s {
		log.Debug("Trigger %s -> %s", c.state, s)
	}
	c.state = s
}
