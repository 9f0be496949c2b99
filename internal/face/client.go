package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the face recognition microservice. It extracts one encoding
// per image and compares them; when an image contains several faces the
// service is asked to use the largest detected one, so repeated submissions
// of the same capture always resolve to the same face.
type Client struct {
	BaseURL   string
	Threshold float64
	HTTP      *http.Client
}

// NewClient creates a client with the given decision threshold on the
// normalized distance scale.
func NewClient(baseURL string, threshold float64) *Client {
	return &Client{
		BaseURL:   baseURL,
		Threshold: threshold,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // encoding extraction can take a while
		},
	}
}

type compareRequest struct {
	Reference     string  `json:"reference"`
	Probe         string  `json:"probe"`
	FaceSelection string  `json:"face_selection"`
	Threshold     float64 `json:"threshold"`
}

type compareResponse struct {
	Distance       float64 `json:"distance"`
	ReferenceFaces int     `json:"reference_faces"`
	ProbeFaces     int     `json:"probe_faces"`
}

// Match implements Matcher. Zero detected faces in either image yields
// ErrNoFaceDetected; transport and service errors are returned as-is so the
// pipeline can fail closed.
func (c *Client) Match(ctx context.Context, reference, probe []byte) (Result, error) {
	if len(reference) == 0 || len(probe) == 0 {
		return Result{}, fmt.Errorf("face: empty image")
	}

	body, _ := json.Marshal(compareRequest{
		Reference:     base64.StdEncoding.EncodeToString(reference),
		Probe:         base64.StdEncoding.EncodeToString(probe),
		FaceSelection: "largest",
		Threshold:     c.Threshold,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}

	var out compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.ReferenceFaces == 0 || out.ProbeFaces == 0 {
		return Result{}, ErrNoFaceDetected
	}

	return Result{
		Match:     out.Distance < c.Threshold,
		Distance:  out.Distance,
		Threshold: c.Threshold,
	}, nil
}

// Health checks whether the face service is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
