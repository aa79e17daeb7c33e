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

// Package main runs the refinement policy benchmark sweep and writes the
// report to the configured result directory.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"arch-funnel.dev/arch-funnel/internal/benchmark"
	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/logging"
)

var logger = logrus.WithFields(logrus.Fields{
	"app":       "archfunnel",
	"component": "benchmark.main",
})

func main() {
	cfg, err := config.Read()
	if err != nil {
		logger.WithError(err).Fatal("cannot read configuration.")
	}
	logging.ConfigureLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		cancel()
	}()

	report, err := benchmark.Run(ctx, benchmark.FromView(cfg))
	if err != nil {
		logger.WithError(err).Fatal("benchmark sweep failed.")
	}
	logger.WithField("cells", len(report.Cells)).Info("Benchmark sweep finished.")
}
