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
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LayerOptions configures a Layer.
type LayerOptions struct {
	// Debug is propagated to every mounted module.
	Debug bool

	// DisableHealth removes the aggregated health endpoint.
	DisableHealth bool

	// HealthPath defaults to DefaultHealthPath.
	HealthPath string

	// MetricsPath, when set, exposes the Layer's Prometheus registry and enables request metrics for modules.
	MetricsPath string
}

// MountOptions are passed through to the mount of one module. They are not interpreted by the Layer beyond
// wrapping the mounted router with Middleware, outermost first.
type MountOptions struct {
	Middleware []mux.MiddlewareFunc
	Extra      map[string]any
}

type MountOption func(*MountOptions)

func WithMountMiddleware(middleware ...mux.MiddlewareFunc) MountOption {
	return func(o *MountOptions) {
		o.Middleware = append(o.Middleware, middleware...)
	}
}

func WithMountOption(key string, value any) MountOption {
	return func(o *MountOptions) {
		if o.Extra == nil {
			o.Extra = map[string]any{}
		}
		o.Extra[key] = value
	}
}

// Mount records one module mounted on a Layer.
type Mount struct {
	Prefix  string
	Module  Module
	Options MountOptions
}

// Layer is the composition root: it mounts modules under path prefixes, owns the global exception handler table,
// the aggregated health endpoint and the lifecycle of everything mounted on it. A Layer is an http.Handler.
type Layer struct {
	DefaultHttpHandlerProviderImpl

	lock      sync.Mutex
	options   LayerOptions
	router    *mux.Router
	handlers  *ExceptionHandlers
	health    *healthAggregator
	lifecycle *Lifecycle
	metrics   *Metrics
	mounts    []*Mount
	log       *logrus.Entry
}

var _ http.Handler = (*Layer)(nil)

func NewLayer(options LayerOptions) *Layer {
	if options.HealthPath == "" {
		options.HealthPath = DefaultHealthPath
	}

	layer := &Layer{
		options:   options,
		router:    mux.NewRouter(),
		handlers:  NewExceptionHandlers(),
		lifecycle: NewLifecycle("layer"),
		log:       pfxlog.Logger().WithField("component", "layer"),
	}

	if options.MetricsPath != "" {
		layer.metrics = NewMetrics()
		layer.router.Handle(options.MetricsPath, layer.metrics.Handler()).Methods(http.MethodGet)
	}

	layer.health = newHealthAggregator(layer.metrics)
	if !options.DisableHealth {
		layer.router.Handle(options.HealthPath, layer.health).Methods(http.MethodGet)
	}

	layer.router.NotFoundHandler = http.HandlerFunc(layer.notFound)
	layer.router.MethodNotAllowedHandler = http.HandlerFunc(handler405)

	return layer
}

func (layer *Layer) Debug() bool {
	return layer.options.Debug
}

// Metrics returns the Layer's collectors, nil unless LayerOptions.MetricsPath is set.
func (layer *Layer) Metrics() *Metrics {
	return layer.metrics
}

// ExceptionHandlers returns the global exception handler table.
func (layer *Layer) ExceptionHandlers() *ExceptionHandlers {
	return layer.handlers
}

func (layer *Layer) Lifecycle() *Lifecycle {
	return layer.lifecycle
}

func (layer *Layer) Mounts() []Mount {
	layer.lock.Lock()
	defer layer.lock.Unlock()

	result := make([]Mount, 0, len(layer.mounts))
	for _, mount := range layer.mounts {
		result = append(result, *mount)
	}
	return result
}

// AddModule mounts module under prefix. Module routes become reachable at prefix + route path only. A prefix may
// not equal, contain or be contained in the prefix of another mount, and modules cannot be added once the Layer
// has started. The module
// takes the Layer's debug flag, its composite health check joins the Layer's checks and its exception handlers
// are copied into the global table, replacing handlers of earlier mounts for the same ErrorKind.
func (layer *Layer) AddModule(prefix string, module Module, opts ...MountOption) error {
	if err := validatePrefix(prefix); err != nil {
		return err
	}

	if module == nil || isNil(module) {
		return errors.Wrapf(ErrNilModule, "mounting on prefix [%s]", prefix)
	}

	options := MountOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	layer.lock.Lock()
	defer layer.lock.Unlock()

	if layer.lifecycle.Started() {
		return errors.Wrapf(ErrLayerStarted, "module [%s] cannot be mounted on [%s]", module.Name(), prefix)
	}

	for _, mount := range layer.mounts {
		if prefixesOverlap(mount.Prefix, prefix) {
			return errors.Wrapf(ErrDuplicatePrefix, "prefix [%s] of module [%s] overlaps prefix [%s] of module [%s]", prefix, module.Name(), mount.Prefix, mount.Module.Name())
		}
		if mount.Module == module {
			return errors.Wrapf(ErrAlreadyMounted, "module [%s] is mounted on [%s]", module.Name(), mount.Prefix)
		}
	}

	if err := module.attach(layer.handlers, http.HandlerFunc(layer.notFound)); err != nil {
		return err
	}

	module.SetDebug(layer.options.Debug)

	router := module.Router()
	if layer.metrics != nil {
		router.Use(layer.metrics.middleware(module.Name()))
	}

	var handler http.Handler = http.StripPrefix(prefix, router)
	for i := len(options.Middleware) - 1; i >= 0; i-- {
		handler = options.Middleware[i](handler)
	}
	layer.router.PathPrefix(prefix + "/").Handler(handler)

	layer.health.add("module:"+module.Name(), func(ctx context.Context) (bool, error) {
		return module.HealthCheck(ctx), nil
	})

	for _, binding := range module.ExceptionHandlers() {
		if _, ok := layer.handlers.Get(binding.Kind); ok {
			layer.log.Debugf("exception handler for %s replaced by module [%s]", binding.Kind, module.Name())
		}
		layer.handlers.Set(binding.Kind, binding.Handler)
	}

	layer.lifecycle.Include(module.Lifecycle())

	layer.mounts = append(layer.mounts, &Mount{Prefix: prefix, Module: module, Options: options})

	layer.log.WithField("prefix", prefix).Debugf("module added: %s %v", module.Name(), module.RoutePaths())

	return nil
}

// AddRoute serves fn directly on the Layer at path, GET unless WithMethods says otherwise.
func (layer *Layer) AddRoute(path string, fn RouteFunc, opts ...RouteOption) error {
	if !strings.HasPrefix(path, "/") {
		return errors.Wrapf(ErrInvalidDeclaration, "route path [%s] must start with /", path)
	}
	if fn == nil {
		return errors.Wrapf(ErrInvalidDeclaration, "route [%s] has no function", path)
	}

	options := RouteOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	methods := options.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet}
	}

	handler := routeHandler(fn, func() *ExceptionHandlers { return layer.handlers })
	route := layer.router.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if options.DebugOnly && !layer.options.Debug {
			WriteDetail(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
			return
		}
		handler.ServeHTTP(w, r)
	})).Methods(methods...)

	if options.Name != "" {
		route.Name(options.Name)
	}

	layer.log.Debugf("route added on path %s: %s", path, funcName(fn))

	return nil
}

// AddCheck adds a root level health check. Unlike module checks, an error returned by fn aborts the whole
// aggregation.
func (layer *Layer) AddCheck(fn CheckFunc) {
	name := funcName(fn)
	layer.log.Debugf("check added: %s", name)
	layer.health.add(name, fn)
}

// AddRedirect answers GET path with a redirect to url, 307 unless code is set.
func (layer *Layer) AddRedirect(path, url string, code int) error {
	if code == 0 {
		code = http.StatusTemporaryRedirect
	}
	redirect := &Redirect{URL: url, Code: code}
	return layer.AddRoute(path, func(*http.Request) (any, error) { return redirect, nil })
}

// AddStatic serves the files under target at path. In html mode directories serve their index.html and
// missing files serve 404.html when present.
func (layer *Layer) AddStatic(path, target string, html bool) error {
	path = strings.TrimSuffix(path, "/")
	if path != "" {
		if err := validatePrefix(path); err != nil {
			return err
		}
	}

	files, err := newStaticFiles(target, html)
	if err != nil {
		return err
	}

	layer.router.PathPrefix(path + "/").Handler(http.StripPrefix(path, files))
	layer.log.Debugf("static folder added on path %s: %s", path+"/", files.root)

	return nil
}

// OnStartup adds a Layer level startup hook, fired before those of mounted modules.
func (layer *Layer) OnStartup(name string, fn HookFunc) {
	layer.lifecycle.OnStartup(name, fn)
}

// OnShutdown adds a Layer level shutdown hook, fired before those of mounted modules.
func (layer *Layer) OnShutdown(name string, fn HookFunc) {
	layer.lifecycle.OnShutdown(name, fn)
}

// Startup fires the startup event for the Layer and every mounted module.
func (layer *Layer) Startup(ctx context.Context) error {
	return layer.lifecycle.Startup(ctx)
}

// Shutdown fires the shutdown event for the Layer and every mounted module.
func (layer *Layer) Shutdown(ctx context.Context) error {
	return layer.lifecycle.Shutdown(ctx)
}

// CheckHealth runs the aggregated health check once.
func (layer *Layer) CheckHealth(ctx context.Context) HealthStatus {
	return layer.health.run(ctx)
}

// notFound answers with the Layer's own default handler, else with that of the ServerConfig the request
// arrived on, else with the Layer's parent chain.
func (layer *Layer) notFound(w http.ResponseWriter, r *http.Request) {
	if layer.HttpHandler == nil {
		if serverContext := ServerContextFromRequestContext(r.Context()); serverContext != nil && serverContext.ServerConfig != nil {
			serverContext.ServerConfig.GetDefaultHttpHandler().ServeHTTP(w, r)
			return
		}
	}
	layer.GetDefaultHttpHandler().ServeHTTP(w, r)
}

func (layer *Layer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	layer.router.ServeHTTP(w, r)
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return errors.Wrap(ErrInvalidPrefix, "prefix must not be empty")
	case !strings.HasPrefix(prefix, "/"):
		return errors.Wrapf(ErrInvalidPrefix, "prefix [%s] must start with /", prefix)
	case strings.HasSuffix(prefix, "/"):
		return errors.Wrapf(ErrInvalidPrefix, "prefix [%s] must not end with /", prefix)
	}
	return nil
}

// prefixesOverlap reports whether one prefix equals the other or is one of its path segment ancestors.
func prefixesOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%T", fn)
}
