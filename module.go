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
	"reflect"
	"sync"

	"github.com/gorilla/mux"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Module is what a Layer mounts. Implementations are obtained from Bind, usually by embedding the returned
// *Instance in the module type.
type Module interface {
	Name() string
	Router() *mux.Router
	RoutePaths() []string
	HealthCheck(ctx context.Context) bool
	ExceptionHandlers() []ExceptionBinding
	Lifecycle() *Lifecycle
	Debug() bool
	SetDebug(debug bool)

	attach(parent *ExceptionHandlers, notFound http.Handler) error
}

type instanceOptions struct {
	name        string
	debug       bool
	strictSlash bool
}

// InstanceOption configures Bind.
type InstanceOption func(*instanceOptions)

// WithName overrides the module name, which defaults to the class name.
func WithName(name string) InstanceOption {
	return func(o *instanceOptions) {
		o.name = name
	}
}

// WithDebug sets the initial debug flag. Mounting replaces it with the Layer's.
func WithDebug(debug bool) InstanceOption {
	return func(o *instanceOptions) {
		o.debug = debug
	}
}

// WithStrictSlash makes the module router redirect /path/ to /path and vice versa.
func WithStrictSlash(strictSlash bool) InstanceOption {
	return func(o *instanceOptions) {
		o.strictSlash = strictSlash
	}
}

type boundRoute struct {
	info RouteInfo
	fn   RouteFunc
}

type boundCheck struct {
	name string
	fn   CheckFunc
}

// Instance is a module value bound to its Class: every declaration resolved to a closure over the value, the
// routes installed on a router owned by the instance, the hooks on its own Lifecycle.
type Instance[M any] struct {
	class     *Class[M]
	module    M
	name      string
	router    *mux.Router
	lifecycle *Lifecycle
	routes    []boundRoute
	checks    []boundCheck
	handlers  *ExceptionHandlers
	log       *logrus.Entry

	lock     sync.RWMutex
	debug    bool
	parent   *ExceptionHandlers
	notFound http.Handler
}

var _ Module = (*Instance[struct{}])(nil)

// Bind resolves every declaration of class against module. A declaration whose name no longer resolves to it
// in the class method table fails the whole binding with ErrBindingMismatch.
func Bind[M any](class *Class[M], module M, opts ...InstanceOption) (*Instance[M], error) {
	if class == nil {
		return nil, errors.Wrap(ErrInvalidDeclaration, "module class must not be nil")
	}

	if isNil(module) {
		return nil, errors.Wrapf(ErrNilModule, "binding class [%s]", class.name)
	}

	options := instanceOptions{name: class.name}
	for _, opt := range opts {
		opt(&options)
	}

	instance := &Instance[M]{
		class:     class,
		module:    module,
		name:      options.name,
		router:    mux.NewRouter(),
		lifecycle: NewLifecycle(options.name),
		handlers:  NewExceptionHandlers(),
		debug:     options.debug,
		log:       pfxlog.Logger().WithField("module", options.name),
	}
	instance.router.StrictSlash(options.strictSlash)
	instance.router.NotFoundHandler = http.HandlerFunc(instance.serveNotFound)
	instance.router.MethodNotAllowedHandler = http.HandlerFunc(handler405)

	for _, bucket := range [][]*Descriptor[M]{class.routes, class.healthChecks, class.startup, class.shutdown, class.handlers} {
		for _, d := range bucket {
			if err := instance.verify(d); err != nil {
				return nil, err
			}
		}
	}

	for _, d := range class.routes {
		instance.bindRoute(d)
	}

	for _, d := range class.healthChecks {
		check := d.check
		instance.checks = append(instance.checks, boundCheck{
			name: d.name,
			fn:   func(ctx context.Context) (bool, error) { return check(module, ctx) },
		})
	}

	for _, d := range class.startup {
		hook := d.hook
		instance.lifecycle.OnStartup(d.name, func(ctx context.Context) error { return hook(module, ctx) })
	}

	for _, d := range class.shutdown {
		hook := d.hook
		instance.lifecycle.OnShutdown(d.name, func(ctx context.Context) error { return hook(module, ctx) })
	}

	for _, d := range class.handlers {
		handler := d.handler
		instance.handlers.Set(d.errorKind, func(w http.ResponseWriter, r *http.Request, err error) {
			handler(module, w, r, err)
		})
	}

	instance.log.Debugf("module bound: %d routes, %d health checks", len(instance.routes), len(instance.checks))

	return instance, nil
}

// MustBind is Bind that panics on error.
func MustBind[M any](class *Class[M], module M, opts ...InstanceOption) *Instance[M] {
	instance, err := Bind(class, module, opts...)
	if err != nil {
		panic(err)
	}
	return instance
}

func (instance *Instance[M]) verify(d *Descriptor[M]) error {
	resolved, ok := instance.class.table[d.name]
	if !ok {
		return errors.Wrapf(ErrBindingMismatch, "module [%s] has no method named [%s]", instance.name, d.name)
	}
	if resolved != d {
		return errors.Wrapf(ErrBindingMismatch, "module [%s] method [%s] was redeclared as %s, harvested as %s", instance.name, d.name, resolved.kind, d.kind)
	}
	return nil
}

func (instance *Instance[M]) bindRoute(d *Descriptor[M]) {
	module := instance.module
	route := d.route

	bound := boundRoute{
		info: RouteInfo{
			Module:  instance.name,
			Name:    d.options.Name,
			Verb:    d.verb,
			Path:    d.path,
			Options: d.Options(),
		},
		fn: func(r *http.Request) (any, error) { return route(module, r) },
	}
	instance.routes = append(instance.routes, bound)

	handler := routeHandler(bound.fn, instance.exceptionHandlers)
	info := bound.info

	muxRoute := instance.router.Handle(d.path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info.Options.DebugOnly && !instance.Debug() {
			WriteDetail(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
			return
		}
		handler.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RouteContextKey, &info)))
	})).Methods(d.verb)

	if info.Name != "" {
		muxRoute.Name(info.Name)
	}
}

func (instance *Instance[M]) exceptionHandlers() *ExceptionHandlers {
	instance.lock.RLock()
	defer instance.lock.RUnlock()

	if instance.parent != nil {
		return instance.parent
	}
	return instance.handlers
}

func (instance *Instance[M]) attach(parent *ExceptionHandlers, notFound http.Handler) error {
	instance.lock.Lock()
	defer instance.lock.Unlock()

	if instance.parent != nil {
		return errors.Wrapf(ErrAlreadyMounted, "module [%s]", instance.name)
	}
	instance.parent = parent
	instance.notFound = notFound
	return nil
}

// serveNotFound answers misses with the not found handler of the Layer once mounted, with a JSON 404 before.
func (instance *Instance[M]) serveNotFound(w http.ResponseWriter, r *http.Request) {
	instance.lock.RLock()
	notFound := instance.notFound
	instance.lock.RUnlock()

	if notFound == nil {
		handler404(w, r)
		return
	}
	notFound.ServeHTTP(w, r)
}

// Self returns the module value the instance is bound to.
func (instance *Instance[M]) Self() M {
	return instance.module
}

func (instance *Instance[M]) Class() *Class[M] {
	return instance.class
}

func (instance *Instance[M]) Name() string {
	return instance.name
}

// Router returns the module router. Its paths are relative to the mount prefix.
func (instance *Instance[M]) Router() *mux.Router {
	return instance.router
}

// RoutePaths lists the declared route paths in declaration order.
func (instance *Instance[M]) RoutePaths() []string {
	paths := make([]string, 0, len(instance.routes))
	for _, route := range instance.routes {
		paths = append(paths, route.info.Path)
	}
	return paths
}

// Routes describes the bound routes in declaration order.
func (instance *Instance[M]) Routes() []RouteInfo {
	result := make([]RouteInfo, 0, len(instance.routes))
	for _, route := range instance.routes {
		result = append(result, route.info)
	}
	return result
}

// HealthCheck runs every module check concurrently and reports whether all of them returned true. Failing,
// erroring or panicking checks only make this module report false.
func (instance *Instance[M]) HealthCheck(ctx context.Context) bool {
	return allPassed(ctx, instance.log, instance.checks)
}

// ExceptionHandlers lists the module's own handlers in declaration order.
func (instance *Instance[M]) ExceptionHandlers() []ExceptionBinding {
	return instance.handlers.Bindings()
}

func (instance *Instance[M]) Lifecycle() *Lifecycle {
	return instance.lifecycle
}

func (instance *Instance[M]) Debug() bool {
	instance.lock.RLock()
	defer instance.lock.RUnlock()
	return instance.debug
}

func (instance *Instance[M]) SetDebug(debug bool) {
	instance.lock.Lock()
	defer instance.lock.Unlock()
	instance.debug = debug
}

// ServeHTTP serves the module on its own, resolving errors through its own exception handlers until mounted.
func (instance *Instance[M]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	instance.router.ServeHTTP(w, r)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
