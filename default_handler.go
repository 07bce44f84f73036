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

import "net/http"

// DefaultHttpHandlerProvider is implemented by the components that answer requests nothing else matched: Host,
// Server and Layer. A component without its own handler defers to its parent, the chain ends in a JSON 404.
type DefaultHttpHandlerProvider interface {
	GetDefaultHttpHandler() http.Handler
	SetDefaultHttpHandler(handler http.Handler)
	SetParent(parent DefaultHttpHandlerProvider)
}

type DefaultHttpHandlerProviderImpl struct {
	Parent      DefaultHttpHandlerProvider
	HttpHandler http.Handler
}

var _ DefaultHttpHandlerProvider = &DefaultHttpHandlerProviderImpl{}

func handler404(rw http.ResponseWriter, _ *http.Request) {
	WriteDetail(rw, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}

func handler405(rw http.ResponseWriter, _ *http.Request) {
	WriteDetail(rw, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
}

func (d *DefaultHttpHandlerProviderImpl) GetDefaultHttpHandler() http.Handler {
	if d.HttpHandler != nil {
		return d.HttpHandler
	}

	if d.Parent != nil {
		if handler := d.Parent.GetDefaultHttpHandler(); handler != nil {
			return handler
		}
	}

	return http.HandlerFunc(handler404)
}

func (d *DefaultHttpHandlerProviderImpl) SetDefaultHttpHandler(handler http.Handler) {
	d.HttpHandler = handler
}

func (d *DefaultHttpHandlerProviderImpl) SetParent(parent DefaultHttpHandlerProvider) {
	d.Parent = parent
}
