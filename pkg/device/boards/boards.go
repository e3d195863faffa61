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

// Package boards selects the board implementation at construction time.
package boards

import (
	"fmt"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/device/replay"
	"jinr.ru/greenlab/go-x6/pkg/device/sim"
	"jinr.ru/greenlab/go-x6/pkg/device/udp"
)

type ErrUnknownBoardType struct {
	Type string
}

func (e ErrUnknownBoardType) Error() string {
	return fmt.Sprintf("Unknown board type: %s", e.Type)
}

func NewBoard(cfg *config.BoardConfig) (ifc.Board, error) {
	switch cfg.Type {
	case "", config.BoardTypeSim:
		return sim.New(cfg), nil
	case config.BoardTypeReplay:
		return replay.New(cfg), nil
	case config.BoardTypeUDP:
		b, err := udp.New(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrUnknownBoardType{Type: cfg.Type}
}
