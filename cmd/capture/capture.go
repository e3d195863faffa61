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

package capture

import (
	"fmt"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-x6/pkg/command"
	"jinr.ru/greenlab/go-x6/pkg/config"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect stored captures",
	}
	cmd.AddCommand(newShowCommand(cfg))
	return cmd
}

func newShowCommand(cfg *config.Config) *cobra.Command {
	var target int
	var samples int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the last capture of a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := command.NewApiClient(cfg).Capture(target, samples > 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Target %d session %s stopped %s\n", rec.Target, rec.Session, rec.Stopped.Format("2006-01-02 15:04:05"))
			for _, ch := range rec.Channels {
				s := ch.Summary
				fmt.Fprintf(out, "Channel %d: %d samples, min %.0f max %.0f mean %.3f std %.3f\n",
					ch.Channel, s.Count, s.Min, s.Max, s.Mean, s.StdDev)
				n := samples
				if n > len(ch.Samples) {
					n = len(ch.Samples)
				}
				if n > 0 {
					fmt.Fprintln(out, ch.Samples[:n])
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "Board target number")
	cmd.Flags().IntVar(&samples, "samples", 0, "Number of samples to print per channel")
	return cmd
}
