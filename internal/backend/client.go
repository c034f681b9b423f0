// Package backend is the client for the interview platform's REST API:
// session metadata, question lists, answer persistence and scored analysis.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the interview backend.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// Details is the scheduling metadata for one interview room.
type Details struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	JobTitle string `json:"jobTitle"`
}

// CategoryFeedback is the written feedback for one scored category.
type CategoryFeedback struct {
	Strengths          string `json:"strengths"`
	AreasOfImprovement string `json:"areasOfImprovement"`
}

// Analysis is the scored evaluation of a completed interview.
type Analysis struct {
	OverallScores map[string]int              `json:"overallScores"`
	Feedback      map[string]CategoryFeedback `json:"feedback"`
	FocusAreas    []string                    `json:"focusAreas"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Details fetches scheduling metadata for a room.
func (c *Client) Details(ctx context.Context, roomID string) (Details, error) {
	var out Details
	err := c.getJSON(ctx, "/api/interview/details/"+roomID, &out)
	return out, err
}

// Questions fetches the ordered question list for a room.
func (c *Client) Questions(ctx context.Context, roomID string) ([]string, error) {
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := c.getJSON(ctx, "/api/interview/questions/"+roomID, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitResponse persists one finished answer.
func (c *Client) SubmitResponse(ctx context.Context, roomID, question, response string) error {
	body := map[string]string{"question": question, "response": response}
	return c.postJSON(ctx, "/api/interview/response/"+roomID, body, nil)
}

// Analyze requests scored analysis for the whole session.
func (c *Client) Analyze(ctx context.Context, roomID string, questions, answers []string) (Analysis, error) {
	body := map[string]any{"roomId": roomID, "questions": questions, "answers": answers}
	var out struct {
		Analysis Analysis `json:"analysis"`
	}
	if err := c.postJSON(ctx, "/api/interview/analyze", body, &out); err != nil {
		return Analysis{}, err
	}
	return out.Analysis, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend: %s %s: status=%d body=%s", req.Method, req.URL.Path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
