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
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	transporttls "github.com/openziti/transport/v2/tls"
	"github.com/openziti/xlayer/middleware"
)

const (
	NewAddressHeader = "xlayer-new-address"
)

// ServerContext is stored in the base context of every http.Server built by a Server.
type ServerContext struct {
	BindPoint    *BindPointConfig
	ServerConfig *ServerConfig
	Config       *HostConfig
}

type namedHttpServer struct {
	*http.Server
	BindPointConfig *BindPointConfig
	ServerConfig    *ServerConfig
	HostConfig      *HostConfig
}

func (s namedHttpServer) NewBaseContext(_ net.Listener) context.Context {
	serverContext := &ServerContext{
		BindPoint:    s.BindPointConfig,
		ServerConfig: s.ServerConfig,
		Config:       s.HostConfig,
	}

	ctx := context.Background()
	ctx = context.WithValue(ctx, ServerContextKey, serverContext)

	return ctx
}

// Server represents all the http.Server's necessary to serve a Layer for a single xlayer.ServerConfig
type Server struct {
	DefaultHttpHandlerProviderImpl
	HttpServers    []*namedHttpServer
	OnHandlerPanic func(writer http.ResponseWriter, request *http.Request, panicVal interface{})
	ServerConfig   *ServerConfig

	logWriter *io.PipeWriter
	lock      sync.Mutex
	listeners []net.Listener
	done      sync.WaitGroup
}

// NewServer creates a new Server from a ServerConfig. Every bind point gets its own http.Server serving handler.
func NewServer(host *Host, serverConfig *ServerConfig, handler http.Handler) *Server {
	logWriter := pfxlog.Logger().Writer()

	var tlsConfig *tls.Config
	if serverConfig.TLS() {
		tlsConfig = serverConfig.Identity.ServerTLSConfig()
		tlsConfig.ClientAuth = tls.RequestClientCert
		tlsConfig.MinVersion = uint16(serverConfig.Options.MinTLSVersion)
		tlsConfig.MaxVersion = uint16(serverConfig.Options.MaxTLSVersion)
	}

	server := &Server{
		logWriter:    logWriter,
		HttpServers:  []*namedHttpServer{},
		ServerConfig: serverConfig,
	}

	server.SetParent(host)
	serverConfig.SetParent(server)

	for _, bindPoint := range serverConfig.BindPoints {
		namedServer := &namedHttpServer{
			ServerConfig:    serverConfig,
			BindPointConfig: bindPoint,
			HostConfig:      host.GetConfig(),
			Server: &http.Server{
				Addr:         bindPoint.InterfaceAddress,
				WriteTimeout: serverConfig.Options.WriteTimeout,
				ReadTimeout:  serverConfig.Options.ReadTimeout,
				IdleTimeout:  serverConfig.Options.IdleTimeout,
				Handler:      server.wrapHandler(bindPoint, handler),
				TLSConfig:    tlsConfig,
				ErrorLog:     log.New(logWriter, "", 0),
			},
		}

		namedServer.BaseContext = namedServer.NewBaseContext

		server.HttpServers = append(server.HttpServers, namedServer)
	}

	return server
}

func (server *Server) wrapHandler(point *BindPointConfig, handler http.Handler) http.Handler {
	//innermost/bottom -> outermost/top
	handler = server.wrapSetNewAddressHeader(point, handler)
	handler = server.wrapPanicRecovery(handler)
	handler = middleware.NewRequestIDHandler(handler)
	handler = middleware.NewCompressionHandler(handler)
	return handler
}

// wrapPanicRecovery wraps a http.Handler with another http.Handler that provides recovery.
func (server *Server) wrapPanicRecovery(handler http.Handler) http.Handler {
	wrappedHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				if server.OnHandlerPanic != nil {
					server.OnHandlerPanic(writer, request, panicVal)
					return
				}
				pfxlog.Logger().Errorf("panic caught by server handler: %v\n%v", panicVal, debugz.GenerateLocalStack())
				WriteDetail(writer, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}()

		handler.ServeHTTP(writer, request)
	})

	return wrappedHandler
}

// wrapSetNewAddressHeader will check to see if the bindPoint is configured to advertise a "new address". If so
// the value is added to the NewAddressHeader which will be sent out on every response. Clients can check this
// header to be notified that the server is or will be moving from one ip/hostname to another.
func (server *Server) wrapSetNewAddressHeader(point *BindPointConfig, handler http.Handler) http.Handler {
	wrappedHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if point.NewAddress != "" {
			scheme := "http://"
			if server.ServerConfig.TLS() {
				scheme = "https://"
			}
			writer.Header().Set(NewAddressHeader, scheme+point.NewAddress)
		}

		handler.ServeHTTP(writer, request)
	})

	return wrappedHandler
}

// Start listens on every bind point and serves each in its own goroutine. Listen errors are returned, after
// which nothing of this server is listening.
func (server *Server) Start() error {
	logger := pfxlog.Logger().WithField("server", server.ServerConfig.Name)

	server.lock.Lock()
	defer server.lock.Unlock()

	var listeners []net.Listener
	for _, httpServer := range server.HttpServers {
		l, err := server.listen(httpServer)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return fmt.Errorf("error listening on %s: %v", httpServer.Addr, err)
		}
		listeners = append(listeners, l)
	}

	server.listeners = listeners

	for i, httpServer := range server.HttpServers {
		l := listeners[i]
		logger.Infof("serving on %s (tls: %v)", l.Addr(), server.ServerConfig.TLS())

		server.done.Add(1)
		go func() {
			defer server.done.Done()
			if err := httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("error serving on %s: %v", l.Addr(), err)
			}
		}()
	}

	return nil
}

func (server *Server) listen(httpServer *namedHttpServer) (net.Listener, error) {
	if httpServer.TLSConfig == nil {
		return net.Listen("tcp", httpServer.Addr)
	}

	cfg := httpServer.TLSConfig
	// make sure to listen to the expected protocols
	cfg.NextProtos = append(cfg.NextProtos, "h2", "http/1.1", "")
	return transporttls.ListenTLS(httpServer.Addr, httpServer.ServerConfig.Name, cfg)
}

// Addrs returns the addresses listened on, empty before Start.
func (server *Server) Addrs() []net.Addr {
	server.lock.Lock()
	defer server.lock.Unlock()

	var result []net.Addr
	for _, l := range server.listeners {
		result = append(result, l.Addr())
	}
	return result
}

// Shutdown stops the server and all underlying http.Server's
func (server *Server) Shutdown(ctx context.Context) {
	for _, httpServer := range server.HttpServers {
		localServer := httpServer
		func() {
			_ = localServer.Shutdown(ctx)
		}()
	}

	server.done.Wait()
	_ = server.logWriter.Close()
}
