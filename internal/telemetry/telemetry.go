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

// Package telemetry configures metrics reporting for the selection engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats/view"

	"arch-funnel.dev/arch-funnel/internal/config"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "archfunnel",
		"component": "telemetry",
	})
)

// Params provides the inputs telemetry needs from the hosting application.
type Params interface {
	Config() config.View
}

// Bindings allows telemetry to hook into the hosting application's HTTP
// server and shutdown sequence.
type Bindings interface {
	AddCloser(c func())
	TelemetryHandle(pattern string, handler http.Handler)
	TelemetryHandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
}

// Setup configures the telemetry for the server.
func Setup(p Params, b Bindings) error {
	cfg := p.Config()

	periodString := cfg.GetString("telemetry.reportingPeriod")
	reportingPeriod, err := time.ParseDuration(periodString)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":           err,
			"reportingPeriod": periodString,
		}).Info("Failed to parse telemetry.reportingPeriod, defaulting to 1m")
		reportingPeriod = time.Minute * 1
	}

	if err := bindPrometheus(p, b); err != nil {
		return err
	}

	// Change the frequency of updates to the metrics endpoint
	view.SetReportingPeriod(reportingPeriod)

	logger.WithFields(logrus.Fields{
		"reportingPeriod": reportingPeriod,
	}).Info("telemetry has been configured.")
	return nil
}
