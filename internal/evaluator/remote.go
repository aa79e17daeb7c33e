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

package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"arch-funnel.dev/arch-funnel/internal/selection"
)

var remoteLogger = logrus.WithFields(logrus.Fields{
	"app":       "archfunnel",
	"component": "evaluator.remote",
})

// RemoteConfig locates the external evaluation service.
type RemoteConfig struct {
	// ScoreURL accepts proxy-scoring requests.
	ScoreURL string
	// TrainURL accepts partial-training requests.
	TrainURL string
	// Timeout bounds a single HTTP call. Defaults to 30s.
	Timeout time.Duration
	// MaxRetries bounds retries of transient failures per call. Defaults
	// to 3.
	MaxRetries uint64
}

// Remote drives an external evaluation service over HTTP with JSON bodies.
// Transient failures (connection errors, 5xx) are retried with exponential
// backoff; 4xx responses are not, since resending the same request cannot
// change the answer.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemote validates the config and returns a remote evaluator.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.ScoreURL == "" || cfg.TrainURL == "" {
		return nil, errors.New("remote evaluator requires both score and train URLs")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Remote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type scoreRequest struct {
	ArchID   string `json:"arch_id"`
	Encoding string `json:"encoding"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

type trainRequest struct {
	ArchID   string  `json:"arch_id"`
	Encoding string  `json:"encoding"`
	Budget   float64 `json:"budget"`
}

type trainResponse struct {
	Metric float64 `json:"metric"`
	Used   float64 `json:"used"`
}

func (r *Remote) Score(ctx context.Context, c selection.Candidate) (float64, error) {
	var resp scoreResponse
	err := r.post(ctx, r.cfg.ScoreURL, scoreRequest{ArchID: c.ID, Encoding: c.Encoding}, &resp)
	if err != nil {
		return 0, errors.Wrapf(err, "scoring candidate %q", c.ID)
	}
	return resp.Score, nil
}

func (r *Remote) TrainPartial(ctx context.Context, c selection.Candidate, budget float64) (float64, float64, error) {
	var resp trainResponse
	req := trainRequest{ArchID: c.ID, Encoding: c.Encoding, Budget: budget}
	err := r.post(ctx, r.cfg.TrainURL, req, &resp)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "training candidate %q", c.ID)
	}
	if resp.Used == 0 {
		// Services which don't meter consumption are assumed to spend
		// the full grant.
		resp.Used = budget
	}
	return resp.Metric, resp.Used, nil
}

func (r *Remote) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding request")
	}

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return errors.Errorf("evaluation service returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(errors.Errorf("evaluation service rejected the request with %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(errors.Wrap(err, "decoding response"))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.cfg.MaxRetries), ctx)
	return backoff.RetryNotify(call, b, func(err error, d time.Duration) {
		remoteLogger.WithError(err).WithField("retryIn", d).Debug("Evaluation call failed, retrying.")
	})
}
