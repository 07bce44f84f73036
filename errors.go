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
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
)

var (
	ErrInvalidDeclaration        = errors.New("invalid module declaration")
	ErrDuplicateExceptionHandler = errors.New("duplicate exception handler")
	ErrBindingMismatch           = errors.New("bound method does not match harvested declaration")
	ErrNilModule                 = errors.New("module must not be nil")
	ErrInvalidPrefix             = errors.New("invalid mount prefix")
	ErrDuplicatePrefix           = errors.New("mount prefix already in use")
	ErrAlreadyMounted            = errors.New("module already mounted")
	ErrLifecycleFired            = errors.New("lifecycle event already fired")
	ErrLayerStarted              = errors.New("layer already started")
)

// ErrorKind identifies the type of error an exception handler answers for. Kinds of concrete types match errors of
// exactly that type, kinds of interface types match any error implementing the interface.
type ErrorKind struct {
	t reflect.Type
}

// KindOf returns the ErrorKind of T, e.g. KindOf[*HTTPError]() or KindOf[net.Error]().
func KindOf[T error]() ErrorKind {
	return ErrorKind{t: reflect.TypeOf((*T)(nil)).Elem()}
}

func (k ErrorKind) IsZero() bool {
	return k.t == nil
}

func (k ErrorKind) String() string {
	if k.t == nil {
		return "<none>"
	}
	return k.t.String()
}

func (k ErrorKind) matchesInterface(err error) bool {
	return k.t != nil && k.t.Kind() == reflect.Interface && reflect.TypeOf(err).Implements(k.t)
}

// ExceptionBinding pairs an ErrorKind with the handler answering for it.
type ExceptionBinding struct {
	Kind    ErrorKind
	Handler ExceptionHandlerFunc
}

// ExceptionHandlers is an ordered ErrorKind to handler table. Setting a kind that is already present replaces its
// handler and keeps its position.
type ExceptionHandlers struct {
	lock     sync.RWMutex
	order    []ErrorKind
	handlers map[ErrorKind]ExceptionHandlerFunc
}

func NewExceptionHandlers() *ExceptionHandlers {
	return &ExceptionHandlers{
		handlers: map[ErrorKind]ExceptionHandlerFunc{},
	}
}

func (table *ExceptionHandlers) Set(kind ErrorKind, handler ExceptionHandlerFunc) {
	table.lock.Lock()
	defer table.lock.Unlock()

	if _, ok := table.handlers[kind]; !ok {
		table.order = append(table.order, kind)
	}
	table.handlers[kind] = handler
}

func (table *ExceptionHandlers) Get(kind ErrorKind) (ExceptionHandlerFunc, bool) {
	table.lock.RLock()
	defer table.lock.RUnlock()

	handler, ok := table.handlers[kind]
	return handler, ok
}

func (table *ExceptionHandlers) Len() int {
	table.lock.RLock()
	defer table.lock.RUnlock()

	return len(table.handlers)
}

// Bindings returns the table contents in insertion order.
func (table *ExceptionHandlers) Bindings() []ExceptionBinding {
	table.lock.RLock()
	defer table.lock.RUnlock()

	result := make([]ExceptionBinding, 0, len(table.order))
	for _, kind := range table.order {
		result = append(result, ExceptionBinding{Kind: kind, Handler: table.handlers[kind]})
	}
	return result
}

// Resolve walks the error tree of err, outermost first, and returns the handler registered for the first error
// in it that has one. For each error an exact type match wins over an interface match.
func (table *ExceptionHandlers) Resolve(err error) (ExceptionHandlerFunc, bool) {
	if err == nil {
		return nil, false
	}

	table.lock.RLock()
	defer table.lock.RUnlock()

	var found ExceptionHandlerFunc
	walkErrors(err, func(current error) bool {
		if handler, ok := table.handlers[ErrorKind{t: reflect.TypeOf(current)}]; ok {
			found = handler
			return true
		}
		for _, kind := range table.order {
			if kind.matchesInterface(current) {
				found = table.handlers[kind]
				return true
			}
		}
		return false
	})

	return found, found != nil
}

func walkErrors(err error, visit func(error) bool) bool {
	if err == nil {
		return false
	}

	if visit(err) {
		return true
	}

	switch unwrapper := err.(type) {
	case interface{ Unwrap() error }:
		return walkErrors(unwrapper.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, inner := range unwrapper.Unwrap() {
			if walkErrors(inner, visit) {
				return true
			}
		}
	}

	return false
}

// HTTPError is an error carrying the status and detail a client should see. Unless an exception handler is
// registered for it, it is written as {"detail": Detail} with Status.
type HTTPError struct {
	Status  int
	Detail  string
	Headers http.Header
}

func NewHTTPError(status int, detail string) *HTTPError {
	return &HTTPError{Status: status, Detail: detail}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Detail)
}
