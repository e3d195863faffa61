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
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req"

	"jinr.ru/greenlab/go-x6/pkg/capture"
	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/srv"
	"jinr.ru/greenlab/go-x6/pkg/stream"
)

type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s:%d/api", cfg.Address, cfg.Port),
	}
}

func (c *ApiClient) deviceUrl(target int, action string) string {
	return fmt.Sprintf("%s/device/%d/%s", c.ApiPrefix, target, action)
}

func check(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		body, _ := r.ToString()
		if body != "" {
			return fmt.Errorf("%s: %s", r.Response().Status, body)
		}
		return errors.New(r.Response().Status)
	}
	return nil
}

// Action sends open, close, start, stop or trigger for a target
func (c *ApiClient) Action(target int, action string) error {
	r, err := req.Post(c.deviceUrl(target, action))
	if err != nil {
		return err
	}
	return check(r)
}

func (c *ApiClient) Open(target int) error {
	return c.Action(target, "open")
}

func (c *ApiClient) Close(target int) error {
	return c.Action(target, "close")
}

func (c *ApiClient) Start(target int) error {
	return c.Action(target, "start")
}

func (c *ApiClient) Stop(target int) error {
	return c.Action(target, "stop")
}

func (c *ApiClient) Trigger(target int) error {
	return c.Action(target, "trigger")
}

// Alert posts a software alert carrying value
func (c *ApiClient) Alert(target int, value uint32) error {
	r, err := req.Post(c.deviceUrl(target, "alert"), req.BodyJSON(&srv.AlertValue{Value: value}))
	if err != nil {
		return err
	}
	return check(r)
}

// SetParameter updates one setting of a target
func (c *ApiClient) SetParameter(target int, name string, value float64) error {
	r, err := req.Post(c.deviceUrl(target, "settings"), req.BodyJSON(&srv.Parameter{Name: name, Value: value}))
	if err != nil {
		return err
	}
	return check(r)
}

func (c *ApiClient) Status(target int) (*stream.Status, error) {
	r, err := req.Get(c.deviceUrl(target, "status"))
	if err != nil {
		return nil, err
	}
	if err = check(r); err != nil {
		return nil, err
	}
	status := &stream.Status{}
	if err = r.ToJSON(status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *ApiClient) BoardCount() (int, error) {
	r, err := req.Get(fmt.Sprintf("%s/boards", c.ApiPrefix))
	if err != nil {
		return 0, err
	}
	if err = check(r); err != nil {
		return 0, err
	}
	count := &srv.BoardCount{}
	if err = r.ToJSON(count); err != nil {
		return 0, err
	}
	return count.Count, nil
}

// Capture fetches the last stored capture of a target
func (c *ApiClient) Capture(target int, withSamples bool) (*capture.Record, error) {
	r, err := req.Get(fmt.Sprintf("%s/capture/%d", c.ApiPrefix, target), req.QueryParam{"samples": withSamples})
	if err != nil {
		return nil, err
	}
	if err = check(r); err != nil {
		return nil, err
	}
	rec := &capture.Record{}
	if err = r.ToJSON(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
