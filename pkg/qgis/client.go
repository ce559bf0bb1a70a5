// Package qgis invokes the remote QGIS processing worker: it marshals layer
// references into presigned URLs, plans outputs, and validates upload
// results.
package qgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/buntinglabs/mundi/pkg/models"
)

// workerTimeout bounds a single processing run.
const workerTimeout = 30 * time.Second

// layerIDPattern matches 12-char layer ids: L plus 11 chars from the id
// alphabet (no 0, 1, I, O, l).
var layerIDPattern = regexp.MustCompile(`^L[2-9A-HJ-NP-Za-km-z]{11}$`)

// Presigner mints short-lived object URLs. Satisfied by storage.Store.
type Presigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
	PresignPut(ctx context.Context, key string) (string, error)
}

// KeyResolver maps a layer id to its object-store key.
type KeyResolver func(ctx context.Context, layerID string) (string, error)

// OutputKind distinguishes vector from raster outputs.
type OutputKind string

const (
	OutputVector OutputKind = "vector"
	OutputRaster OutputKind = "raster"
)

// PlannedOutput describes one output object the worker will upload.
type PlannedOutput struct {
	Parameter string
	LayerID   string
	Key       string
	Kind      OutputKind
}

// RunResult is a successful worker invocation: the outputs it uploaded plus
// the raw worker response for diagnostics.
type RunResult struct {
	AlgorithmID string
	Outputs     []PlannedOutput
	Raw         json.RawMessage
}

// WorkerError is a recoverable failure carrying the worker's raw result so
// the LLM can see what went wrong.
type WorkerError struct {
	Message string
	Raw     json.RawMessage
}

func (e *WorkerError) Error() string {
	return e.Message
}

// Algorithm is one geoprocessing tool advertised by the worker.
type Algorithm struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Client talks to the QGIS processing worker.
type Client struct {
	baseURL   string
	http      *http.Client
	presigner Presigner
}

// NewClient creates a worker client. An empty baseURL disables geoprocessing
// tools; callers check Enabled.
func NewClient(baseURL string, presigner Presigner) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: workerTimeout},
		presigner: presigner,
	}
}

// Enabled reports whether a worker URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// AlgorithmID resolves a tool name to the worker's algorithm id.
func AlgorithmID(toolName string) string {
	return strings.ReplaceAll(toolName, "_", ":")
}

// IsLayerID reports whether a string is a well-formed layer id.
func IsLayerID(s string) bool {
	return layerIDPattern.MatchString(s)
}

// PlanOutputKind decides whether a tool produces vector or raster output by
// which word its description uses more.
func PlanOutputKind(description string) OutputKind {
	lower := strings.ToLower(description)
	if strings.Count(lower, "raster") > strings.Count(lower, "vector") {
		return OutputRaster
	}
	return OutputVector
}

// Ext returns the file extension for an output kind.
func (k OutputKind) Ext() string {
	if k == OutputRaster {
		return ".tif"
	}
	return ".fgb"
}

// ListAlgorithms fetches the worker's advertised algorithm catalog, which
// the loop exposes to the LLM as dynamic tools.
func (c *Client) ListAlgorithms(ctx context.Context) ([]Algorithm, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/algorithms", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build algorithm list request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker algorithms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker algorithm list returned status %d", resp.StatusCode)
	}
	var algos []Algorithm
	if err := json.NewDecoder(resp.Body).Decode(&algos); err != nil {
		return nil, fmt.Errorf("failed to decode worker algorithm list: %w", err)
	}
	return algos, nil
}

type runRequest struct {
	AlgorithmID            string            `json:"algorithm_id"`
	QGISInputs             map[string]string `json:"qgis_inputs"`
	InputURLs              map[string]string `json:"input_urls"`
	OutputPresignedPutURLs map[string]string `json:"output_presigned_put_urls"`
}

type uploadResult struct {
	Uploaded bool `json:"uploaded"`
}

type runResponse struct {
	UploadResults map[string]uploadResult `json:"upload_results"`
}

// Run invokes one algorithm. Arguments whose values look like layer ids are
// replaced with presigned read URLs via resolve; all other scalars pass
// through as strings. One OUTPUT object is planned from the tool
// description.
func (c *Client) Run(ctx context.Context, toolName, description string, args map[string]any, userID, projectID string, resolve KeyResolver) (*RunResult, error) {
	algorithmID := AlgorithmID(toolName)

	inputs := make(map[string]string)
	inputURLs := make(map[string]string)
	for param, value := range args {
		str := fmt.Sprintf("%v", value)
		if s, ok := value.(string); ok && IsLayerID(s) {
			key, err := resolve(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve layer %s: %w", s, err)
			}
			url, err := c.presigner.PresignGet(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to presign input layer %s: %w", s, err)
			}
			inputURLs[param] = url
			continue
		}
		inputs[param] = str
	}

	kind := PlanOutputKind(description)
	outLayerID := models.GenerateID('L')
	outKey := fmt.Sprintf("uploads/%s/%s/%s%s", userID, projectID, outLayerID, kind.Ext())
	putURL, err := c.presigner.PresignPut(ctx, outKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign output: %w", err)
	}
	outputs := []PlannedOutput{{Parameter: "OUTPUT", LayerID: outLayerID, Key: outKey, Kind: kind}}

	body, err := json.Marshal(runRequest{
		AlgorithmID:            algorithmID,
		QGISInputs:             inputs,
		InputURLs:              inputURLs,
		OutputPresignedPutURLs: map[string]string{"OUTPUT": putURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("QGIS worker request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &WorkerError{
			Message: fmt.Sprintf("QGIS worker returned status %d", resp.StatusCode),
			Raw:     raw,
		}
	}

	var parsed runResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &WorkerError{Message: "QGIS worker returned an unparseable result", Raw: raw}
	}
	for _, out := range outputs {
		result, ok := parsed.UploadResults[out.Parameter]
		if !ok || !result.Uploaded {
			return nil, &WorkerError{
				Message: fmt.Sprintf("QGIS worker did not upload output %s", out.Parameter),
				Raw:     raw,
			}
		}
	}

	return &RunResult{AlgorithmID: algorithmID, Outputs: outputs, Raw: raw}, nil
}
