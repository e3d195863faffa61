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

package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/log"
	"jinr.ru/greenlab/go-x6/pkg/metrics"
	"jinr.ru/greenlab/go-x6/pkg/srv"
)

// StartServer runs the API server until SIGINT or SIGTERM, then closes every open target
func StartServer(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := srv.NewRegistry(cfg, nil)
	if err != nil {
		return err
	}
	defer registry.CloseAll()

	metrics.RegisterMonitoring(prometheus.DefaultRegisterer)
	s, err := srv.NewApiServer(ctx, cfg, registry, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	err = s.Run()
	log.Info("API server stopped")
	return err
}
