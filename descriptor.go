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
)

// Kind is the role a declared module method plays once bound.
type Kind int

const (
	KindRoute Kind = iota
	KindHealthCheck
	KindStartup
	KindShutdown
	KindExceptionHandler
)

func (k Kind) String() string {
	switch k {
	case KindRoute:
		return "route"
	case KindHealthCheck:
		return "healthcheck"
	case KindStartup:
		return "startup"
	case KindShutdown:
		return "shutdown"
	case KindExceptionHandler:
		return "exception_handler"
	}
	return "unknown"
}

// Unbound method signatures, taking the module value first. Method expressions such as (*EchoModule).Random
// satisfy these directly.
type (
	RouteMethod[M any]            func(m M, r *http.Request) (any, error)
	CheckMethod[M any]            func(m M, ctx context.Context) (bool, error)
	HookMethod[M any]             func(m M, ctx context.Context) error
	ExceptionHandlerMethod[M any] func(m M, w http.ResponseWriter, r *http.Request, err error)
)

// Bound signatures, produced by binding a Descriptor to a module value or supplied directly to a Layer.
type (
	RouteFunc            func(r *http.Request) (any, error)
	CheckFunc            func(ctx context.Context) (bool, error)
	HookFunc             func(ctx context.Context) error
	ExceptionHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
)

// RouteOptions is the extra routing configuration carried by a route declaration. Extra is passed through
// untouched and is available to downstream handlers via RouteFromRequestContext. Methods only applies to
// Layer.AddRoute, module routes take their verb from the declaration.
type RouteOptions struct {
	Name          string
	DebugOnly     bool
	ResponseModel any
	Methods       []string
	Extra         map[string]any
}

// RouteOption mutates RouteOptions at declaration time.
type RouteOption func(*RouteOptions)

// WithRouteName names the route. Defaults to the declaration name.
func WithRouteName(name string) RouteOption {
	return func(o *RouteOptions) {
		o.Name = name
	}
}

// WithDebugOnly hides the route (404) unless the owning module runs in debug mode.
func WithDebugOnly() RouteOption {
	return func(o *RouteOptions) {
		o.DebugOnly = true
	}
}

// WithResponseModel records a response schema hint for documentation generators.
func WithResponseModel(model any) RouteOption {
	return func(o *RouteOptions) {
		o.ResponseModel = model
	}
}

// WithMethods sets the verbs a direct Layer route answers.
func WithMethods(methods ...string) RouteOption {
	return func(o *RouteOptions) {
		o.Methods = append(o.Methods, methods...)
	}
}

// WithOption sets an arbitrary extra option.
func WithOption(key string, value any) RouteOption {
	return func(o *RouteOptions) {
		if o.Extra == nil {
			o.Extra = map[string]any{}
		}
		o.Extra[key] = value
	}
}

// Descriptor records one declared module method. Only the target matching Kind is set. Descriptors are never
// modified after a Builder creates them and are shared by every Instance of their Class.
type Descriptor[M any] struct {
	kind      Kind
	name      string
	verb      string
	path      string
	errorKind ErrorKind
	options   RouteOptions

	route   RouteMethod[M]
	check   CheckMethod[M]
	hook    HookMethod[M]
	handler ExceptionHandlerMethod[M]
}

func (d *Descriptor[M]) Kind() Kind {
	return d.kind
}

func (d *Descriptor[M]) Name() string {
	return d.name
}

func (d *Descriptor[M]) Verb() string {
	return d.verb
}

func (d *Descriptor[M]) Path() string {
	return d.path
}

func (d *Descriptor[M]) ErrorKind() ErrorKind {
	return d.errorKind
}

// Options returns a copy of the route options.
func (d *Descriptor[M]) Options() RouteOptions {
	options := d.options
	if d.options.Extra != nil {
		options.Extra = make(map[string]any, len(d.options.Extra))
		for k, v := range d.options.Extra {
			options.Extra[k] = v
		}
	}
	return options
}

func (d *Descriptor[M]) hasTarget() bool {
	switch d.kind {
	case KindRoute:
		return d.route != nil
	case KindHealthCheck:
		return d.check != nil
	case KindStartup, KindShutdown:
		return d.hook != nil
	case KindExceptionHandler:
		return d.handler != nil
	}
	return false
}

// lift re-targets a descriptor onto a type that can reach M through up. The result keeps name, kind and options.
func lift[D, M any](d *Descriptor[M], up func(D) M) *Descriptor[D] {
	lifted := &Descriptor[D]{
		kind:      d.kind,
		name:      d.name,
		verb:      d.verb,
		path:      d.path,
		errorKind: d.errorKind,
		options:   d.Options(),
	}

	switch {
	case d.route != nil:
		route := d.route
		lifted.route = func(m D, r *http.Request) (any, error) { return route(up(m), r) }
	case d.check != nil:
		check := d.check
		lifted.check = func(m D, ctx context.Context) (bool, error) { return check(up(m), ctx) }
	case d.hook != nil:
		hook := d.hook
		lifted.hook = func(m D, ctx context.Context) error { return hook(up(m), ctx) }
	case d.handler != nil:
		handler := d.handler
		lifted.handler = func(m D, w http.ResponseWriter, r *http.Request, err error) { handler(up(m), w, r, err) }
	}

	return lifted
}
