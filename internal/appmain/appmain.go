// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package appmain contains the common application initialization code for the
// selection engine servers.
package appmain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/logging"
	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "archfunnel",
		"component": "app.main",
	})
)

// RunApplication starts and runs the given application forever.  For use in
// main functions to run the full application.
func RunApplication(serverName string, bindService Bind) {
	c := make(chan os.Signal, 1)
	// SIGTERM is signaled by k8s when it wants a pod to stop.
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)

	a, err := StartApplication(serverName, bindService, config.Read, net.Listen)
	if err != nil {
		logger.Fatal(err)
	}

	<-c
	err = a.Stop()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("Application stopped successfully.")
}

// Bind is a function which starts an application, and binds it to serving.
type Bind func(p *Params, b *Bindings) error

// Params are inputs to starting an application.
type Params struct {
	config      config.View
	serviceName string
}

// Config provides the configuration for the application.
func (p *Params) Config() config.View {
	return p.config
}

// ServiceName is a name for the currently running binary.
func (p *Params) ServiceName() string {
	return p.serviceName
}

// Bindings allows applications to bind various functions to the running servers.
type Bindings struct {
	router       *gin.Engine
	telemetryMux *http.ServeMux
	a            *App
}

// Router returns the HTTP router the application's handlers are registered on.
func (b *Bindings) Router() *gin.Engine {
	return b.router
}

// TelemetryHandle binds a handler on the telemetry mux.
func (b *Bindings) TelemetryHandle(pattern string, handler http.Handler) {
	b.telemetryMux.Handle(pattern, handler)
}

// TelemetryHandleFunc binds a handler function on the telemetry mux.
func (b *Bindings) TelemetryHandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	b.telemetryMux.HandleFunc(pattern, handler)
}

// AddCloser specifies a function to be called on application stop.
func (b *Bindings) AddCloser(c func()) {
	b.a.closers = append(b.a.closers, func() error {
		c()
		return nil
	})
}

// AddCloserErr specifies a function to be called on application stop which may
// itself fail.
func (b *Bindings) AddCloserErr(c func() error) {
	b.a.closers = append(b.a.closers, c)
}

// App is used internally, and public only for apptest.  Do not use, and use apptest instead.
type App struct {
	closers []func() error
}

// StartApplication provides more control over an application than
// RunApplication.  It is for running in memory tests against your app.
func StartApplication(serverName string, bindService Bind, getCfg func() (config.View, error), listen func(network, address string) (net.Listener, error)) (*App, error) {
	a := &App{}

	cfg, err := getCfg()
	if err != nil {
		logger.WithError(err).Fatalf("cannot read configuration.")
	}
	logging.ConfigureLogging(cfg)

	if cfg.GetString("logging.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	telemetryMux := http.NewServeMux()
	router.GET("/metrics", gin.WrapH(telemetryMux))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	p := &Params{
		config:      cfg,
		serviceName: serverName,
	}
	b := &Bindings{
		a:            a,
		router:       router,
		telemetryMux: telemetryMux,
	}

	err = telemetry.Setup(p, b)
	if err != nil {
		a.Stop()
		return nil, err
	}

	err = bindService(p, b)
	if err != nil {
		a.Stop()
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.GetInt("api."+serverName+".httpport"))
	ln, err := listen("tcp", addr)
	if err != nil {
		a.Stop()
		return nil, err
	}
	srv := &http.Server{Handler: router}
	go func() {
		serveErr := srv.Serve(ln)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.WithError(serveErr).Error("HTTP server exited.")
		}
	}()
	logger.WithFields(logrus.Fields{
		"address": addr,
		"service": serverName,
	}).Info("Serving HTTP.")

	b.AddCloserErr(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	return a, nil
}

// Stop shuts down the application.
func (a *App) Stop() error {
	// Use closers in reverse order: Since dependencies are created before
	// their dependants, this helps ensure no dependencies are closed
	// unexpectedly.
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
