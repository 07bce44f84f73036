/*
	Copyright NetFoundry Inc.

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

// Package echo is a small module answering with what it is asked, used to try out a Layer.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xlayer"
	"github.com/pkg/errors"
)

const Binding = "echo"

// ParameterError reports a request parameter that could not be used.
type ParameterError struct {
	Parameter string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter [%s]: %s", e.Parameter, e.Reason)
}

// Payload is accepted by POST /body.
type Payload struct {
	Value string `json:"value"`
}

type Module struct {
	*xlayer.Instance[*Module]

	random  int
	started atomic.Bool
}

var Class = xlayer.MustDefine[*Module]("echo", func(b *xlayer.Builder[*Module]) {
	b.Route(http.MethodGet, "/random", "route_random", (*Module).Random, xlayer.WithResponseModel(map[string]int{})).
		Route(http.MethodGet, "/empty", "route_empty", (*Module).Empty).
		Route(http.MethodGet, "/number", "route_query", (*Module).Number).
		Route(http.MethodGet, "/string-{value}", "route_path", (*Module).Echo).
		Route(http.MethodPost, "/body", "route_body", (*Module).Body, xlayer.WithOption("requestModel", Payload{})).
		HealthCheck("check_started", (*Module).Started).
		OnStartup("startup", (*Module).Startup).
		OnShutdown("shutdown", (*Module).Shutdown).
		ExceptionHandler("invalid_parameter", xlayer.KindOf[*ParameterError](), (*Module).InvalidParameter)
})

// New creates an echo module. A negative random picks a value from 0 to 9.
func New(random int, opts ...xlayer.InstanceOption) (*Module, error) {
	if random < 0 {
		random = rand.IntN(10)
	}

	module := &Module{random: random}

	instance, err := xlayer.Bind(Class, module, opts...)
	if err != nil {
		return nil, err
	}
	module.Instance = instance

	return module, nil
}

func (m *Module) Random(*http.Request) (any, error) {
	return map[string]int{"random": m.random}, nil
}

func (m *Module) Empty(*http.Request) (any, error) {
	return map[string]any{}, nil
}

func (m *Module) Number(r *http.Request) (any, error) {
	raw := r.URL.Query().Get("value")
	if raw == "" {
		return nil, &ParameterError{Parameter: "value", Reason: "required"}
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &ParameterError{Parameter: "value", Reason: "not an integer"}
	}

	return map[string]int{"number": value}, nil
}

func (m *Module) Echo(r *http.Request) (any, error) {
	return map[string]string{"string": xlayer.Vars(r)["value"]}, nil
}

func (m *Module) Body(r *http.Request) (any, error) {
	body := &Payload{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		return nil, errors.Wrap(&ParameterError{Parameter: "body", Reason: err.Error()}, "could not decode body")
	}
	return body.Value, nil
}

// Started passes once the startup event fired.
func (m *Module) Started(context.Context) (bool, error) {
	return m.started.Load(), nil
}

func (m *Module) Startup(context.Context) error {
	m.started.Store(true)
	pfxlog.Logger().WithField("module", m.Name()).Infof("echo module started with random value %d", m.random)
	return nil
}

func (m *Module) Shutdown(context.Context) error {
	m.started.Store(false)
	return nil
}

func (m *Module) InvalidParameter(w http.ResponseWriter, _ *http.Request, err error) {
	var paramErr *ParameterError
	if errors.As(err, &paramErr) {
		xlayer.WriteDetail(w, http.StatusUnprocessableEntity, paramErr.Error())
		return
	}
	xlayer.WriteDetail(w, http.StatusUnprocessableEntity, err.Error())
}
