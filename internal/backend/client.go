package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/SRMV-Team/liveclass-gateway/pkg/constants"
	"go.uber.org/zap"
)

// Client talks to the tuition backend's REST API. The backend is the source of
// truth; every non-success response maps to a failure condition for the
// corresponding intent.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// statusResponse is the backend's {success, message, liveClass} envelope.
type statusResponse struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	LiveClass *model.LiveClassRecord `json:"liveClass"`
}

// NewClient creates a backend client. timeout bounds each round trip on top of
// any caller context deadline.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// ListLiveClasses fetches the current full roster of live classes.
func (c *Client) ListLiveClasses(ctx context.Context) ([]model.LiveClassRecord, error) {
	var roster []model.LiveClassRecord
	if err := c.getJSON(ctx, constants.PathLiveClasses, &roster); err != nil {
		return nil, fmt.Errorf("list live classes: %w", err)
	}
	return roster, nil
}

// StartLiveClass submits a start request. The returned record is the backend's
// confirmed view; nothing is live until this succeeds.
func (c *Client) StartLiveClass(ctx context.Context, desc model.ClassDescriptor) (*model.LiveClassRecord, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("start live class: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+constants.PathLiveClassStart, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("start live class: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res statusResponse
	if err := c.do(req, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStartFailed, err)
	}
	if !res.Success || res.LiveClass == nil {
		c.log.Warn("backend rejected start", zap.String("subject", desc.Subject), zap.String("message", res.Message))
		return nil, fmt.Errorf("%w: %s", errs.ErrStartFailed, orUnknown(res.Message))
	}
	return res.LiveClass, nil
}

// EndLiveClass requests termination of a live class. A backend report of
// "already ended" comes back as ErrAlreadyEnded so the caller can treat the
// benign race as success.
func (c *Client) EndLiveClass(ctx context.Context, recordID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+constants.PathLiveClassEnd+"/"+url.PathEscape(recordID), nil)
	if err != nil {
		return fmt.Errorf("end live class: %w", err)
	}
	var res statusResponse
	if err := c.do(req, &res); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrEndFailed, err)
	}
	if !res.Success {
		if strings.Contains(strings.ToLower(res.Message), "already ended") {
			return errs.ErrAlreadyEnded
		}
		return fmt.Errorf("%w: %s", errs.ErrEndFailed, orUnknown(res.Message))
	}
	return nil
}

// ListSubjects fetches the subject catalogue for the dashboards.
func (c *Client) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	var subjects []model.Subject
	if err := c.getJSON(ctx, constants.PathSubjects, &subjects); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	return nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown backend error"
	}
	return msg
}
