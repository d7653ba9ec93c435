package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend-activitytracker/internal/activity"
	"backend-activitytracker/internal/groupactivity"
	"backend-activitytracker/internal/lifecycle"
)

// apiClient talks to the REST side of the server as one user.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) createSession(ctx context.Context, req groupactivity.CreateRequest) (groupactivity.CreateResponse, error) {
	var out groupactivity.CreateResponse
	err := c.do(ctx, http.MethodPost, "/group_activity", req, http.StatusCreated, &out)
	return out, err
}

func (c *apiClient) join(ctx context.Context, req groupactivity.JoinRequest) (lifecycle.SessionView, error) {
	var out lifecycle.SessionView
	err := c.do(ctx, http.MethodPost, "/group_activity/join", req, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) session(ctx context.Context, id string) (lifecycle.SessionView, error) {
	var out lifecycle.SessionView
	err := c.do(ctx, http.MethodGet, "/group_activity/"+id, nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) upload(ctx context.Context, a activity.FinishedActivity) (activity.FinishedActivity, error) {
	var out activity.FinishedActivity
	err := c.do(ctx, http.MethodPost, "/activities", a, http.StatusCreated, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// httpBase maps a ws:// or wss:// endpoint to its http counterpart.
func httpBase(wsBase string) string {
	switch {
	case strings.HasPrefix(wsBase, "wss://"):
		return "https://" + strings.TrimPrefix(wsBase, "wss://")
	case strings.HasPrefix(wsBase, "ws://"):
		return "http://" + strings.TrimPrefix(wsBase, "ws://")
	}
	return wsBase
}
