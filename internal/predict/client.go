package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-data/recovery.report/internal/httputil"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// Request parameterises one trajectory prediction.
type Request struct {
	ID             string               `json:"id"`
	Subject        string               `json:"subject"`
	Position       telemetry.Coordinate `json:"position"`
	AltitudeM      float64              `json:"altitude_m"`
	AscentRateMps  float64              `json:"ascent_rate_mps"`
	DescentRateMps float64              `json:"descent_rate_mps"`
	BurstAltitudeM float64              `json:"burst_altitude_m"`
	Descending     bool                 `json:"descending"`
}

// NewRequest builds a Request with a fresh ID.
func NewRequest(subject string, pos telemetry.Coordinate, altitudeM float64) Request {
	return Request{
		ID:        uuid.NewString(),
		Subject:   subject,
		Position:  pos,
		AltitudeM: altitudeM,
	}
}

// PathPoint is one point of a predicted trajectory.
type PathPoint struct {
	Position  telemetry.Coordinate `json:"position"`
	AltitudeM float64              `json:"altitude_m"`
	Time      time.Time            `json:"time"`
}

// Result is the parsed prediction response.
type Result struct {
	Path         []PathPoint          `json:"path"`
	BurstPoint   *PathPoint           `json:"burst_point,omitempty"`
	LandingPoint telemetry.Coordinate `json:"landing_point"`
	LandingTime  time.Time            `json:"landing_time"`
}

// Client calls the external trajectory-prediction HTTP API. Timeouts
// are the responsibility of the injected HTTP client; the caller treats
// a timeout like any other failure.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
}

// NewClient creates a predictor client. A nil HTTP client uses the
// standard library default.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// Predict posts the request and decodes the predicted trajectory.
func (c *Client) Predict(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("prediction call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so connections can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("prediction API returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return result, nil
}
