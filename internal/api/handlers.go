package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/database"
	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/languages"
	"github.com/muazhussain/Judgebox-Judge/internal/queue"
)

// TestCaseFetcher supplies a problem's ordered test cases. The problem
// store client implements it; tests substitute fakes.
type TestCaseFetcher interface {
	FetchTestCases(ctx context.Context, problemID string) ([]judge.TestCase, error)
}

// ResultArchive persists judge results for later retrieval. Optional.
type ResultArchive interface {
	SaveResult(ctx context.Context, res *judge.Result) error
	GetResult(ctx context.Context, submissionID string) (*judge.Result, error)
}

// Limits are applied to test cases that arrive without their own.
type Limits struct {
	TimeLimitMs      int64
	MemoryLimitBytes int64
}

type Handler struct {
	queueManager *queue.Manager
	registry     *languages.Registry
	fetcher      TestCaseFetcher
	archive      ResultArchive // nil when persistence is disabled
	defaults     Limits
	logger       *zerolog.Logger
}

func NewHandler(manager *queue.Manager, registry *languages.Registry, fetcher TestCaseFetcher, archive ResultArchive, defaults Limits, logger *zerolog.Logger) *Handler {
	return &Handler{
		queueManager: manager,
		registry:     registry,
		fetcher:      fetcher,
		archive:      archive,
		defaults:     defaults,
		logger:       logger,
	}
}

type judgeRequest struct {
	SubmissionID string            `json:"submissionId"`
	ProblemID    string            `json:"problemId"`
	Language     string            `json:"language"`
	SourceCode   string            `json:"sourceCode"`
	TestCases    []testCasePayload `json:"testCases,omitempty"`
}

type testCasePayload struct {
	TestCaseID       string `json:"testCaseId"`
	Input            string `json:"input"`
	ExpectedOutput   string `json:"expectedOutput"`
	TimeLimitMs      int64  `json:"timeLimitMs,omitempty"`
	MemoryLimitBytes int64  `json:"memoryLimitBytes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Judge handles POST /judge.
func (h *Handler) Judge(w http.ResponseWriter, r *http.Request) {
	var req judgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.SubmissionID == "" || req.Language == "" || req.SourceCode == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "submissionId, language and sourceCode are required"})
		return
	}

	// Reject unsupported languages before any sandbox work.
	if _, err := h.registry.Get(req.Language); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	tests, err := h.resolveTestCases(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("problem_id", req.ProblemID).Msg("failed to fetch test cases")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to fetch test cases"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), judgeDeadline(tests))
	defer cancel()

	job := &queue.Job{
		ID: uuid.NewString(),
		Submission: judge.Submission{
			SubmissionID: req.SubmissionID,
			ProblemID:    req.ProblemID,
			Language:     req.Language,
			SourceCode:   req.SourceCode,
		},
		TestCases: tests,
		Result:    make(chan *judge.Result, 1),
		Err:       make(chan error, 1),
		Ctx:       ctx,
	}

	if err := h.queueManager.Submit(job); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "judge queue full, try again later"})
		return
	}

	select {
	case res := <-job.Result:
		h.archiveResult(res)
		writeJSON(w, http.StatusOK, res)
	case err := <-job.Err:
		if errors.Is(err, languages.ErrUnsupportedLanguage) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("submission_id", req.SubmissionID).Msg("judge run failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "judging failed"})
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "judging timed out"})
	}
}

// Languages handles GET /languages.
func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	type languageInfo struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	profiles := h.registry.List()
	out := make([]languageInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, languageInfo{ID: p.ID, Name: p.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// Submission handles GET /submissions/{id} against the archive.
func (h *Handler) Submission(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "result archive disabled"})
		return
	}
	res, err := h.archive.GetResult(r.Context(), r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "submission not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load archived result")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load result"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) resolveTestCases(ctx context.Context, req judgeRequest) ([]judge.TestCase, error) {
	if len(req.TestCases) > 0 {
		tests := make([]judge.TestCase, 0, len(req.TestCases))
		for _, tc := range req.TestCases {
			tests = append(tests, h.withDefaults(judge.TestCase{
				TestCaseID:       tc.TestCaseID,
				Input:            tc.Input,
				ExpectedOutput:   tc.ExpectedOutput,
				TimeLimitMs:      tc.TimeLimitMs,
				MemoryLimitBytes: tc.MemoryLimitBytes,
			}))
		}
		return tests, nil
	}

	tests, err := h.fetcher.FetchTestCases(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}
	for i := range tests {
		tests[i] = h.withDefaults(tests[i])
	}
	return tests, nil
}

func (h *Handler) withDefaults(tc judge.TestCase) judge.TestCase {
	if tc.TimeLimitMs <= 0 {
		tc.TimeLimitMs = h.defaults.TimeLimitMs
	}
	if tc.MemoryLimitBytes <= 0 {
		tc.MemoryLimitBytes = h.defaults.MemoryLimitBytes
	}
	return tc
}

func (h *Handler) archiveResult(res *judge.Result) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.archive.SaveResult(ctx, res); err != nil {
		h.logger.Error().Err(err).Str("submission_id", res.SubmissionID).Msg("failed to archive result")
	}
}

// judgeDeadline bounds one judge run: worst case every test uses its
// full time limit sequentially, plus slack for compiles and container
// churn.
func judgeDeadline(tests []judge.TestCase) time.Duration {
	var total time.Duration
	for _, tc := range tests {
		total += time.Duration(tc.TimeLimitMs) * time.Millisecond
	}
	return total + 30*time.Second
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
