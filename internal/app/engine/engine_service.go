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

package engine

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"arch-funnel.dev/arch-funnel/internal/config"
	"arch-funnel.dev/arch-funnel/internal/evaluator"
	"arch-funnel.dev/arch-funnel/internal/scorecache"
	"arch-funnel.dev/arch-funnel/internal/selection"
	"arch-funnel.dev/arch-funnel/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "archfunnel",
		"component": "app.engine",
	})

	mSelectRuns = telemetry.Counter("engine/select_runs", "end to end selection runs served")
)

type engineService struct {
	cfg        config.View
	space      *evaluator.Space
	runner     *selection.Runner
	cache      scorecache.Service
	policyOpts selection.PolicyOptions
}

func (s *engineService) registerRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	v1.POST("/coordinate", s.coordinate)
	v1.POST("/filter", s.filter)
	v1.POST("/refine", s.refine)
	v1.POST("/select", s.selectArch)
	v1.POST("/profile/filtering", s.profileFiltering)
	v1.POST("/profile/refinement", s.profileRefinement)
}

type coordinateRequest struct {
	Budget float64 `json:"budget"`
	// Per-call costs are pointers so an explicit zero is distinguishable
	// from an omitted field.
	ScoreTime  *float64 `json:"score_time_per_model"`
	TrainTime  *float64 `json:"train_time_per_epoch"`
	OnlyPhase1 bool     `json:"only_phase1"`
}

type coordinateResponse struct {
	N      int    `json:"n"`
	K      int    `json:"k"`
	U      int    `json:"u"`
	Status string `json:"status"`
}

// coordinate turns a time budget into an allocation plan. Per-call costs are
// taken from the request when supplied, and profiled against the evaluator
// otherwise.
func (s *engineService) coordinate(c *gin.Context) {
	var req coordinateRequest
	if !bindRequest(c, &req) {
		return
	}

	var scoreTime, trainTime float64
	var err error
	if req.ScoreTime != nil {
		scoreTime = *req.ScoreTime
	} else if scoreTime, err = s.runner.ProfileFiltering(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	if req.TrainTime != nil {
		trainTime = *req.TrainTime
	} else if !req.OnlyPhase1 {
		if trainTime, err = s.runner.ProfileRefinement(c.Request.Context()); err != nil {
			respondErr(c, err)
			return
		}
	}

	plan, err := s.runner.Coordinator.Coordinate(req.Budget, scoreTime, trainTime, req.OnlyPhase1)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, coordinateResponse{
		N:      plan.N,
		K:      plan.K,
		U:      plan.U,
		Status: string(plan.Status),
	})
}

type filterRequest struct {
	N int `json:"n"`
	K int `json:"k"`
}

type scoredModel struct {
	ArchID   string  `json:"arch_id"`
	Encoding string  `json:"encoding,omitempty"`
	Score    float64 `json:"score"`
}

type filterResponse struct {
	KModels   []scoredModel `json:"k_models"`
	Exhausted bool          `json:"exhausted"`
	Trace     []scoredModel `json:"trace,omitempty"`
}

// filter explores n candidates and returns the k best by proxy score.
func (s *engineService) filter(c *gin.Context) {
	var req filterRequest
	if !bindRequest(c, &req) {
		return
	}

	res, err := selection.Filter(c.Request.Context(), req.N, req.K, s.runner.NewSampler(), s.runner.Evaluator, s.runner.FilterOpts)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := filterResponse{Exhausted: res.Exhausted}
	for _, sc := range res.TopK {
		resp.KModels = append(resp.KModels, scoredModel{ArchID: sc.ID, Encoding: sc.Encoding, Score: sc.Score})
	}
	for _, sc := range res.Scored {
		resp.Trace = append(resp.Trace, scoredModel{ArchID: sc.ID, Score: sc.Score})
	}
	c.JSON(http.StatusOK, resp)
}

type refineRequest struct {
	KModels []scoredModel `json:"k_models"`
	U       int           `json:"u"`
	// Policy optionally overrides the configured refinement policy for
	// this call.
	Policy string `json:"policy"`
	// OnlyPhase1 resolves the call on the proxy scores without training,
	// for plans coordinated in filter-only mode.
	OnlyPhase1 bool `json:"only_phase1"`
}

type refineResponse struct {
	BestArch            string  `json:"best_arch"`
	BestArchPerformance float64 `json:"best_arch_performance"`
	BudgetUsed          float64 `json:"budget_used"`
	Rounds              int     `json:"rounds"`
}

// refine runs the configured policy over caller-provided survivors.
func (s *engineService) refine(c *gin.Context) {
	var req refineRequest
	if !bindRequest(c, &req) {
		return
	}

	candidates := make([]selection.ScoredCandidate, len(req.KModels))
	for i, m := range req.KModels {
		candidates[i] = selection.ScoredCandidate{
			Candidate: selection.Candidate{ID: m.ArchID, Encoding: m.Encoding},
			Score:     m.Score,
		}
	}

	if req.OnlyPhase1 {
		res, err := selection.RefineFilterOnly(candidates)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, refineResponse{
			BestArch:            res.Best.ID,
			BestArchPerformance: res.Best.Metric,
		})
		return
	}

	policy := s.runner.Policy
	if req.Policy != "" && req.Policy != policy.Name() {
		var err error
		if policy, err = selection.NewPolicy(req.Policy, s.policyOpts); err != nil {
			respondErr(c, err)
			return
		}
	}

	res, err := policy.Refine(c.Request.Context(), candidates, req.U, s.runner.Evaluator)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, refineResponse{
		BestArch:            res.Best.ID,
		BestArchPerformance: res.Best.Metric,
		BudgetUsed:          res.BudgetUsed,
		Rounds:              len(res.Rounds),
	})
}

type selectRequest struct {
	Budget     float64 `json:"budget"`
	OnlyPhase1 bool    `json:"only_phase1"`
}

type selectResponse struct {
	BestArch            string  `json:"best_arch"`
	BestArchPerformance float64 `json:"best_arch_performance"`
	TimeUsage           float64 `json:"time_usage"`
}

// selectArch is the end-to-end run: profile, coordinate, filter, refine.
func (s *engineService) selectArch(c *gin.Context) {
	var req selectRequest
	if !bindRequest(c, &req) {
		return
	}

	runID := xid.New().String()
	res, err := s.runner.Select(c.Request.Context(), req.Budget, req.OnlyPhase1)
	if err != nil {
		respondErr(c, err)
		return
	}
	telemetry.RecordUnitMeasurement(c.Request.Context(), mSelectRuns)
	logger.WithFields(logrus.Fields{
		"runId":     runID,
		"best":      res.Best.ID,
		"plan":      res.Plan,
		"timeUsage": res.TimeUsage,
	}).Info("Selection run finished.")

	perf := res.Best.Metric
	if res.Refine == nil {
		perf = res.Best.Score
	}
	c.JSON(http.StatusOK, selectResponse{
		BestArch:            res.Best.ID,
		BestArchPerformance: perf,
		TimeUsage:           res.TimeUsage,
	})
}

type profileResponse struct {
	Time float64 `json:"time"`
}

func (s *engineService) profileFiltering(c *gin.Context) {
	t, err := s.runner.ProfileFiltering(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{Time: t})
}

func (s *engineService) profileRefinement(c *gin.Context) {
	t, err := s.runner.ProfileRefinement(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{Time: t})
}

func bindRequest(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"kind":    string(selection.KindConfiguration),
			"message": err.Error(),
		}})
		return false
	}
	return true
}

// respondErr maps engine errors onto the wire: configuration errors are the
// caller's fault and get a 400; every other fault is delivered as a
// structured error record rather than a transport failure.
func respondErr(c *gin.Context, err error) {
	status := http.StatusOK
	if selection.IsConfigurationError(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": gin.H{
		"kind":    string(selection.KindOf(err)),
		"message": err.Error(),
	}})
}
