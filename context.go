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

import "context"

type ContextKey string

const (
	RouteContextKey  = ContextKey("xlayer.Route.ContextKey")
	ServerContextKey = ContextKey("xlayer.Server.ContextKey")
)

// RouteInfo describes the module route serving a request.
type RouteInfo struct {
	Module  string
	Name    string
	Verb    string
	Path    string
	Options RouteOptions
}

// RouteFromRequestContext is a utility function to retrieve the RouteInfo of the module route serving the
// request, useful for logging and documentation by downstream handlers. Returns nil for direct Layer routes.
func RouteFromRequestContext(ctx context.Context) *RouteInfo {
	if val := ctx.Value(RouteContextKey); val != nil {
		if info, ok := val.(*RouteInfo); ok {
			return info
		}
	}
	return nil
}

// ServerContextFromRequestContext is a utility function to retrieve a *ServerContext reference from the http.Request
// that provides access to the ServerConfig and BindPointConfig the request arrived on.
func ServerContextFromRequestContext(ctx context.Context) *ServerContext {
	if val := ctx.Value(ServerContextKey); val != nil {
		if serverContext, ok := val.(*ServerContext); ok {
			return serverContext
		}
	}
	return nil
}

// ModuleFromRequestContext returns the name of the module serving the request, empty for direct Layer routes.
func ModuleFromRequestContext(ctx context.Context) string {
	if info := RouteFromRequestContext(ctx); info != nil {
		return info.Module
	}
	return ""
}
