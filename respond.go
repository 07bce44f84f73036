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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
)

// Responder is a route result that writes its own response instead of being encoded as JSON.
type Responder interface {
	Respond(w http.ResponseWriter, r *http.Request)
}

// Redirect is a Responder sending the client to URL.
type Redirect struct {
	URL     string
	Code    int
	Headers http.Header
}

func (redirect *Redirect) Respond(w http.ResponseWriter, r *http.Request) {
	for key, values := range redirect.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	code := redirect.Code
	if code == 0 {
		code = http.StatusTemporaryRedirect
	}

	http.Redirect(w, r, redirect.URL, code)
}

// Vars returns the path placeholders matched for the current request.
func Vars(r *http.Request) map[string]string {
	return mux.Vars(r)
}

// WriteJSON writes value as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		pfxlog.Logger().Errorf("could not encode response body: %v", err)
	}
}

// WriteDetail writes the {"detail": ...} error body.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, map[string]string{"detail": detail})
}

// PanicError carries a value recovered from a panicking route handler or check.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func recoverPanic(err *error) {
	if value := recover(); value != nil {
		*err = &PanicError{Value: value, Stack: debugz.GenerateLocalStack()}
	}
}

func callRoute(fn RouteFunc, r *http.Request) (value any, err error) {
	defer recoverPanic(&err)
	return fn(r)
}

// routeHandler adapts a RouteFunc to an http.Handler. Errors are answered by the exception handler table
// returned by handlers at request time.
func routeHandler(fn RouteFunc, handlers func() *ExceptionHandlers) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := callRoute(fn, r)
		if err != nil {
			handleError(w, r, err, handlers())
			return
		}
		writeValue(w, r, value)
	})
}

func writeValue(w http.ResponseWriter, r *http.Request, value any) {
	switch v := value.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case Responder:
		v.Respond(w, r)
	case http.Handler:
		v.ServeHTTP(w, r)
	default:
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error, handlers *ExceptionHandlers) {
	if handlers != nil {
		if handler, ok := handlers.Resolve(err); ok {
			handler(w, r, err)
			return
		}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		for key, values := range httpErr.Headers {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		WriteDetail(w, httpErr.Status, httpErr.Detail)
		return
	}

	log := pfxlog.Logger().WithField("path", r.URL.Path).WithField("method", r.Method)
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		log.Errorf("panic caught by route handler: %v\n%v", panicErr.Value, panicErr.Stack)
	} else {
		log.Errorf("unhandled error from route handler: %v", err)
	}

	WriteDetail(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
