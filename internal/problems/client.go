// Package problems is the client for the external problem store. The
// judge core never owns problem or test-case data; it fetches an
// ordered sequence of test cases per problem and treats it as
// read-only.
package problems

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/muazhussain/Judgebox-Judge/internal/judge"
)

// Client talks to the problem store's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type problemPayload struct {
	Data struct {
		TimeLimit   int64 `json:"timeLimit"`   // milliseconds
		MemoryLimit int64 `json:"memoryLimit"` // megabytes
	} `json:"data"`
}

type testCasePayload struct {
	Data []struct {
		ID     string `json:"id"`
		Input  string `json:"input"`
		Output string `json:"output"`
	} `json:"data"`
}

// FetchTestCases returns the problem's test cases in store order, with
// the problem's limits applied to each.
func (c *Client) FetchTestCases(ctx context.Context, problemID string) ([]judge.TestCase, error) {
	var problem problemPayload
	if err := c.get(ctx, fmt.Sprintf("%s/problems/%s", c.baseURL, url.PathEscape(problemID)), &problem); err != nil {
		return nil, fmt.Errorf("fetch problem %s: %w", problemID, err)
	}

	var cases testCasePayload
	target := fmt.Sprintf("%s/test-cases?problemId=%s", c.baseURL, url.QueryEscape(problemID))
	if err := c.get(ctx, target, &cases); err != nil {
		return nil, fmt.Errorf("fetch test cases for %s: %w", problemID, err)
	}

	out := make([]judge.TestCase, 0, len(cases.Data))
	for _, tc := range cases.Data {
		out = append(out, judge.TestCase{
			TestCaseID:       tc.ID,
			Input:            tc.Input,
			ExpectedOutput:   tc.Output,
			TimeLimitMs:      problem.Data.TimeLimit,
			MemoryLimitBytes: problem.Data.MemoryLimit * 1024 * 1024,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("problem store returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
