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

import "strings"

// Builder records the declarations of a module type. Declaring never fails, problems are reported by Define
// and Bind.
//
// Every declaration is keyed by name. Redeclaring a name with the same Kind overrides the earlier declaration
// in place, keeping its position. Redeclaring a name with a different Kind points the method table at the new
// declaration while the old one stays in its bucket, which Bind reports as ErrBindingMismatch.
type Builder[M any] struct {
	declared []*Descriptor[M]
	table    map[string]*Descriptor[M]
}

func newBuilder[M any]() *Builder[M] {
	return &Builder[M]{
		table: map[string]*Descriptor[M]{},
	}
}

// Route declares an HTTP route. The path is relative to the prefix the module is mounted under and may contain
// {placeholders}.
func (b *Builder[M]) Route(verb, path, name string, fn RouteMethod[M], opts ...RouteOption) *Builder[M] {
	options := RouteOptions{Name: name}
	for _, opt := range opts {
		opt(&options)
	}

	return b.declare(&Descriptor[M]{
		kind:    KindRoute,
		name:    name,
		verb:    strings.ToUpper(verb),
		path:    path,
		options: options,
		route:   fn,
	})
}

// HealthCheck declares a check that takes part in the module composite health check.
func (b *Builder[M]) HealthCheck(name string, fn CheckMethod[M]) *Builder[M] {
	return b.declare(&Descriptor[M]{
		kind:  KindHealthCheck,
		name:  name,
		check: fn,
	})
}

// OnStartup declares a hook fired by the module lifecycle startup event.
func (b *Builder[M]) OnStartup(name string, fn HookMethod[M]) *Builder[M] {
	return b.declare(&Descriptor[M]{
		kind: KindStartup,
		name: name,
		hook: fn,
	})
}

// OnShutdown declares a hook fired by the module lifecycle shutdown event.
func (b *Builder[M]) OnShutdown(name string, fn HookMethod[M]) *Builder[M] {
	return b.declare(&Descriptor[M]{
		kind: KindShutdown,
		name: name,
		hook: fn,
	})
}

// ExceptionHandler declares the handler for request errors of the given kind.
func (b *Builder[M]) ExceptionHandler(name string, kind ErrorKind, fn ExceptionHandlerMethod[M]) *Builder[M] {
	return b.declare(&Descriptor[M]{
		kind:      KindExceptionHandler,
		name:      name,
		errorKind: kind,
		handler:   fn,
	})
}

func (b *Builder[M]) declare(d *Descriptor[M]) *Builder[M] {
	if existing, ok := b.table[d.name]; ok && existing.kind == d.kind {
		for i, declared := range b.declared {
			if declared == existing {
				b.declared[i] = d
				break
			}
		}
	} else {
		b.declared = append(b.declared, d)
	}

	b.table[d.name] = d

	return b
}
