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

package xlayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

// greeterModule is a complete module: routes, a check, hooks and an exception handler.
type greeterModule struct {
	*Instance[*greeterModule]

	greeting string
	status   int
	healthy  bool
	checkErr error

	startups  atomic.Int32
	shutdowns atomic.Int32
}

var greeterClass = MustDefine[*greeterModule]("greeter", func(b *Builder[*greeterModule]) {
	b.Route(http.MethodGet, "/hello", "route_hello", (*greeterModule).Hello).
		Route(http.MethodGet, "/hello/{name}", "route_hello_name", (*greeterModule).HelloName).
		Route(http.MethodGet, "/fail", "route_fail", (*greeterModule).Fail).
		Route(http.MethodGet, "/whoami", "route_whoami", (*greeterModule).WhoAmI, WithOption("tag", "introspection")).
		Route(http.MethodGet, "/internals", "route_internals", (*greeterModule).Internals, WithDebugOnly()).
		HealthCheck("check_healthy", (*greeterModule).Healthy).
		OnStartup("startup", (*greeterModule).Startup).
		OnShutdown("shutdown", (*greeterModule).Shutdown).
		ExceptionHandler("handle_test_error", KindOf[*testError](), (*greeterModule).HandleTestError)
})

func newGreeter(t *testing.T, greeting string, status int, opts ...InstanceOption) *greeterModule {
	module := &greeterModule{greeting: greeting, status: status, healthy: true}
	instance, err := Bind(greeterClass, module, opts...)
	require.NoError(t, err)
	module.Instance = instance
	return module
}

func (m *greeterModule) Hello(*http.Request) (any, error) {
	return map[string]string{"greeting": m.greeting}, nil
}

func (m *greeterModule) HelloName(r *http.Request) (any, error) {
	return map[string]string{"greeting": m.greeting + " " + Vars(r)["name"]}, nil
}

func (m *greeterModule) Fail(*http.Request) (any, error) {
	return nil, &testError{msg: m.greeting + " failed"}
}

func (m *greeterModule) WhoAmI(r *http.Request) (any, error) {
	info := RouteFromRequestContext(r.Context())
	return map[string]any{
		"module": ModuleFromRequestContext(r.Context()),
		"route":  info.Name,
		"tag":    info.Options.Extra["tag"],
	}, nil
}

func (m *greeterModule) Internals(*http.Request) (any, error) {
	return map[string]string{"module": m.Name()}, nil
}

func (m *greeterModule) Healthy(context.Context) (bool, error) {
	return m.healthy, m.checkErr
}

func (m *greeterModule) Startup(context.Context) error {
	m.startups.Add(1)
	return nil
}

func (m *greeterModule) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func (m *greeterModule) HandleTestError(w http.ResponseWriter, _ *http.Request, err error) {
	WriteDetail(w, m.status, err.Error())
}

// probeModule only carries health checks.
type probeModule struct {
	first  bool
	second bool
	err    error
	panics bool

	barrier  *sync.WaitGroup
	released chan struct{}
}

var probeClass = MustDefine[*probeModule]("probe", func(b *Builder[*probeModule]) {
	b.HealthCheck("check_first", (*probeModule).First).
		HealthCheck("check_second", (*probeModule).Second).
		HealthCheck("check_third", (*probeModule).Third)
})

func (m *probeModule) First(context.Context) (bool, error) {
	return m.first && m.rendezvous(), nil
}

func (m *probeModule) Second(context.Context) (bool, error) {
	return m.second && m.rendezvous(), m.err
}

func (m *probeModule) Third(context.Context) (bool, error) {
	if m.panics {
		panic("probe exploded")
	}
	return m.rendezvous(), nil
}

// rendezvous only returns true once all three checks are running at the same time.
func (m *probeModule) rendezvous() bool {
	if m.barrier == nil {
		return true
	}
	m.barrier.Done()
	select {
	case <-m.released:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func newRendezvousProbe() *probeModule {
	probe := &probeModule{first: true, second: true, barrier: &sync.WaitGroup{}, released: make(chan struct{})}
	probe.barrier.Add(3)
	go func() {
		probe.barrier.Wait()
		close(probe.released)
	}()
	return probe
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, target, nil))
	return recorder
}
