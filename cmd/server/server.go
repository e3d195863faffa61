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

package server

import (
	"fmt"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-x6/pkg/command"
	"jinr.ru/greenlab/go-x6/pkg/config"
)

const (
	AddressOptionName = "address"
	PortOptionName    = "port"
	BoardOptionName   = "board"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	var address, board string
	var port int
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address != "" {
				cfg.Address = address
			}
			if port != 0 {
				cfg.Port = port
			}
			if board != "" {
				cfg.BoardConfig.Type = board
			}
			return command.StartServer(cfg)
		},
	}
	cmd.Flags().StringVar(&address, AddressOptionName, "", fmt.Sprintf("Address to bind. E.g. %s", config.DefaultApiAddress))
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("Port to bind. E.g. %d", config.DefaultApiPort))
	cmd.Flags().StringVar(&board, BoardOptionName, "", fmt.Sprintf("Board type: %s, %s or %s",
		config.BoardTypeSim, config.BoardTypeReplay, config.BoardTypeUDP))
	return cmd
}
