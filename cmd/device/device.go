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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-x6/pkg/command"
	"jinr.ru/greenlab/go-x6/pkg/config"
)

const (
	TargetOptionName = "target"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Drive the stream of a board",
	}
	cmd.PersistentFlags().IntVar(&target, TargetOptionName, 0, "Board target number")

	for _, action := range []string{"open", "close", "start", "stop", "trigger"} {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("Send %s to the target", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return command.NewApiClient(cfg).Action(target, action)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "alert VALUE",
		Short: "Post a software alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).Alert(target, uint32(value))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Update one setting, used by the next start",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetParameter(target, args[0], value)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the stream status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := command.NewApiClient(cfg).Status(target)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of installed boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := command.NewApiClient(cfg).BoardCount()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	})
	return cmd
}
