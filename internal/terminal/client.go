// Package terminal is the client for the access-control terminals' local
// HTTP API: paged access-event search and snapshot retrieval, both behind
// HTTP Digest authentication.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/HerbHall/gatesync/internal/version"
	"github.com/HerbHall/gatesync/pkg/models"
)

const (
	searchPath = "/ISAPI/AccessControl/AcsEvent?format=json"

	// TimeLayout is how window bounds are rendered, before the zone suffix.
	TimeLayout = "2006-01-02T15:04:05"

	maxPages         = 100
	maxSnapshotBytes = 16 << 20
)

// Search response states reported by the terminal.
const (
	statusOK      = "OK"
	statusMore    = "MORE"
	statusNoMatch = "NO MATCH"
)

// HTTPError is a non-2xx answer from a terminal.
type HTTPError struct {
	Op         string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Op, e.StatusCode)
}

// IsClientError reports whether err is a 4xx answer from the terminal.
func IsClientError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500
}

// RawEvent is one access event as the terminal reports it.
type RawEvent struct {
	Major            int    `json:"major"`
	Minor            int    `json:"minor"`
	Time             string `json:"time"`
	SerialNo         int64  `json:"serialNo"`
	EmployeeNoString string `json:"employeeNoString,omitempty"`
	Name             string `json:"name,omitempty"`
	PictureURL       string `json:"pictureURL,omitempty"`
}

// Window is a half-open search interval [Start, End). Suffix is appended to
// both rendered bounds; an empty suffix sends naive local timestamps.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
	Suffix   string
}

// Format renders t the way the terminal expects it.
func (w Window) Format(t time.Time) string {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	return t.Format(TimeLayout) + w.Suffix
}

type searchCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
}

type searchRequest struct {
	AcsEventCond searchCond `json:"AcsEventCond"`
}

type searchResponse struct {
	AcsEvent struct {
		SearchID           string     `json:"searchID"`
		ResponseStatusStrg string     `json:"responseStatusStrg"`
		NumOfMatches       int        `json:"numOfMatches"`
		TotalMatches       int        `json:"totalMatches"`
		InfoList           []RawEvent `json:"InfoList"`
	} `json:"AcsEvent"`
}

// Client talks to one terminal. It is built per device from the device's
// address and stored credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for d whose calls each time out after timeout.
// The address may carry a scheme and port; a bare host means http.
func New(d models.Device, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(d.Address), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &digest.Transport{
				Username: d.Username,
				Password: d.Password,
			},
		},
	}
}

// SearchEvents returns every access event in w, following the terminal's
// "MORE" paging with pageSize results per request.
func (c *Client) SearchEvents(ctx context.Context, w Window, pageSize int) ([]RawEvent, error) {
	if pageSize <= 0 {
		pageSize = 30
	}
	cond := searchCond{
		SearchID:   uuid.NewString(),
		MaxResults: pageSize,
		StartTime:  w.Format(w.Start),
		EndTime:    w.Format(w.End),
	}

	var events []RawEvent
	for page := 0; page < maxPages; page++ {
		resp, err := c.searchPage(ctx, cond)
		if err != nil {
			return nil, err
		}
		got := resp.AcsEvent.InfoList
		events = append(events, got...)
		if resp.AcsEvent.ResponseStatusStrg != statusMore || len(got) == 0 {
			return events, nil
		}
		cond.SearchResultPosition += len(got)
	}
	return nil, fmt.Errorf("search events: more than %d pages in %s..%s", maxPages, cond.StartTime, cond.EndTime)
}

func (c *Client) searchPage(ctx context.Context, cond searchCond) (*searchResponse, error) {
	body, err := json.Marshal(searchRequest{AcsEventCond: cond})
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{Op: "search events", StatusCode: resp.StatusCode}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	switch out.AcsEvent.ResponseStatusStrg {
	case statusOK, statusMore, statusNoMatch, "":
	default:
		return nil, fmt.Errorf("search events: terminal reported %q", out.AcsEvent.ResponseStatusStrg)
	}
	return &out, nil
}

// FetchSnapshot downloads the image at pictureURL with the device's
// credentials. A relative URL is resolved against the terminal address.
func (c *Client) FetchSnapshot(ctx context.Context, pictureURL string) ([]byte, error) {
	if strings.TrimSpace(pictureURL) == "" {
		return nil, errors.New("fetch snapshot: event has no picture URL")
	}
	if strings.HasPrefix(pictureURL, "/") {
		pictureURL = c.baseURL + pictureURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pictureURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{Op: "fetch snapshot", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("fetch snapshot: empty body")
	}
	return data, nil
}
