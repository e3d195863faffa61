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

// go-x6 API
//
// # RESTful APIs to drive X6 digitizer streams
//
// Schemes: http
// Host: localhost:8000
// Version: 1.0.0
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
// swagger:meta
package srv

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jinr.ru/greenlab/go-x6/pkg/capture"
	"jinr.ru/greenlab/go-x6/pkg/config"
	"jinr.ru/greenlab/go-x6/pkg/device/ifc"
	"jinr.ru/greenlab/go-x6/pkg/log"
	"jinr.ru/greenlab/go-x6/pkg/stream"
)

//go:embed swagger.json
var swaggerJSON []byte

// AlertValue is the body of a software alert request
type AlertValue struct {
	Value uint32 `json:"value"`
}

// Parameter is the body of a settings update
type Parameter struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type BoardCount struct {
	Count int `json:"count"`
}

type Targets struct {
	Targets []int `json:"targets"`
}

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	registry *Registry
	gatherer prometheus.Gatherer
}

func NewApiServer(ctx context.Context, cfg *config.Config, registry *Registry, gatherer prometheus.Gatherer) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s port: %d", cfg.Address, cfg.Port)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &ApiServer{
		Context:  ctx,
		Config:   cfg,
		registry: registry,
		gatherer: gatherer,
	}
	if err := s.configureRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler wraps the router with access logging and panic recovery
func (s *ApiServer) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handlers.LoggingHandler(log.Writer(), s.Router))
}

// Run serves the API until the context is done
func (s *ApiServer) Run() error {
	log.Info("Starting API server: address: %s port: %d", s.Config.Address, s.Config.Port)
	httpServer := &http.Server{
		Handler: s.Handler(),
		Addr:    fmt.Sprintf("%s:%d", s.Config.Address, s.Config.Port),
	}
	go func() {
		<-s.Context.Done()
		httpServer.Close()
	}()
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ApiServer) configureRouter() error {
	doc, err := loads.Analyzed(json.RawMessage(swaggerJSON), "")
	if err != nil {
		return errors.Wrap(err, "loading swagger document")
	}

	s.Router = mux.NewRouter()
	s.Router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.Router.Handle("/swagger.json", middleware.Spec("/", doc.Raw(), http.NotFoundHandler()))
	s.Router.Handle("/docs", middleware.Redoc(middleware.RedocOpts{
		Path:    "docs",
		SpecURL: "/swagger.json",
		Title:   "go-x6 API",
	}, http.NotFoundHandler()))

	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/boards", s.handleBoardCount()).Methods("GET")
	subRouter.HandleFunc("/device", s.handleTargets()).Methods("GET")
	subRouter.HandleFunc("/device/{target:[0-9]+}/{action:open|close|start|stop|trigger}", s.handleAction()).Methods("POST")
	subRouter.HandleFunc("/device/{target:[0-9]+}/alert", s.handleAlert()).Methods("POST")
	subRouter.HandleFunc("/device/{target:[0-9]+}/status", s.handleStatus()).Methods("GET")
	subRouter.HandleFunc("/device/{target:[0-9]+}/settings", s.handleSettings()).Methods("GET")
	subRouter.HandleFunc("/device/{target:[0-9]+}/settings", s.handleSetParameter()).Methods("POST")
	subRouter.HandleFunc("/device/{target:[0-9]+}/channel/{channel:[0-9]+}", s.handleChannel()).Methods("GET")
	subRouter.HandleFunc("/capture/{target:[0-9]+}", s.handleCapture()).Methods("GET")
	return nil
}

func target(r *http.Request) int {
	// the route pattern only admits digits
	t, _ := strconv.Atoi(mux.Vars(r)["target"])
	return t
}

func httpStatus(err error) int {
	var (
		notFound  ErrTargetNotFound
		noCapture capture.ErrCaptureNotFound
		rejected  stream.ErrStartRejected
		notConn   stream.ErrNotConnected
		streaming stream.ErrAlreadyStreaming
		devErr    ifc.ErrDevice
		invalid   config.ErrInvalidSettings
		noStore   ErrNoCaptureStore
		notOpen   ifc.ErrNotOpen
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noCapture):
		return http.StatusNotFound
	case errors.As(err, &rejected), errors.As(err, &notConn), errors.As(err, &streaming), errors.As(err, &notOpen):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &devErr):
		return http.StatusBadGateway
	case errors.As(err, &noStore):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), httpStatus(err))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Encoding response: %s", err)
	}
}

func (s *ApiServer) handleBoardCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.registry.BoardCount()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, &BoardCount{Count: count})
	}
}

func (s *ApiServer) handleTargets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &Targets{Targets: s.registry.Targets()})
	}
}

func (s *ApiServer) handleAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := target(r)
		var err error
		switch action := mux.Vars(r)["action"]; action {
		case "open":
			err = s.registry.Open(t)
		case "close":
			err = s.registry.Close(t)
		case "start":
			err = s.registry.Start(t)
		case "stop":
			err = s.registry.Stop(t)
		case "trigger":
			err = s.registry.Trigger(t)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *ApiServer) handleAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alert := &AlertValue{}
		if err := json.NewDecoder(r.Body).Decode(alert); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.registry.Alert(target(r), alert.Value); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *ApiServer) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.registry.Status(target(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, &status)
	}
}

func (s *ApiServer) handleSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.registry.Settings(target(r)))
	}
}

func (s *ApiServer) handleSetParameter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		param := &Parameter{}
		if err := json.NewDecoder(r.Body).Decode(param); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.registry.SetParameter(target(r), param.Name, param.Value); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *ApiServer) handleChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, _ := strconv.Atoi(mux.Vars(r)["channel"])
		samples, err := s.registry.Channel(target(r), ch)
		if err != nil {
			var notFound ErrTargetNotFound
			if errors.As(err, &notFound) {
				writeError(w, err)
				return
			}
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, samples)
	}
}

func (s *ApiServer) handleCapture() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withSamples := r.URL.Query().Get("samples") == "true"
		rec, err := s.registry.Capture(target(r), withSamples)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, rec)
	}
}
