// Package suggest is the adapter for the external redaction-suggestion
// service. It maps local entities to the service's wire shape and reconciles
// the returned regions back to entity identities by geometric matching: the
// service is stateless and only echoes geometry, never identifiers.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/redactly/redactly/internal/geometry"
	"github.com/redactly/redactly/internal/logger"
)

// BoxEpsilon is the tolerance for matching a suggested box against a local
// entity. Coordinates travel through JSON, so identity comparison on floats
// would be fragile; any echoed box is well within this tolerance of itself.
const BoxEpsilon = 1e-3

var (
	// ErrSuggestion indicates the suggestion call failed.
	ErrSuggestion = errors.New("suggestion request failed")
	// ErrSchema indicates a response failed schema validation. The contract
	// is strict: a malformed response is a hard failure, not a partial one.
	ErrSchema = errors.New("suggestion response failed validation")
)

// Entity is a local entity in the form the adapter consumes.
type Entity struct {
	ID        string
	Signature bool
	Type      string
	Text      string
	Box       geometry.BoundingBox
}

// Suggestion is the reconciled outcome of one suggestion call.
type Suggestion struct {
	// RecommendedIDs holds the local entity ids the service recommended,
	// restricted to boxes that could be confidently mapped back.
	RecommendedIDs []string
	// Reasoning is the service's human-readable rationale.
	Reasoning string
}

// wire shapes, mirroring the service contract exactly.

type wirePIIEntity struct {
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	BoundingBox []float64 `json:"boundingBox"`
}

type wireSignatureRegion struct {
	BoundingBox []float64 `json:"boundingBox"`
}

type wireRequest struct {
	DocumentText     string                `json:"documentText"`
	PIIEntities      []wirePIIEntity       `json:"piiEntities"`
	SignatureRegions []wireSignatureRegion `json:"signatureRegions"`
	Criteria         string                `json:"criteria"`
}

type wireSuggestedRedaction struct {
	Type        string    `json:"type,omitempty"`
	Text        string    `json:"text,omitempty"`
	BoundingBox []float64 `json:"boundingBox"`
}

type wireResponse struct {
	SuggestedRedactions []wireSuggestedRedaction `json:"suggestedRedactions"`
	Reasoning           string                   `json:"reasoning"`
}

func (r *wireResponse) validate() error {
	if r.SuggestedRedactions == nil {
		return fmt.Errorf("missing suggestedRedactions")
	}
	for i, s := range r.SuggestedRedactions {
		if len(s.BoundingBox) != 4 {
			return fmt.Errorf("suggestedRedactions[%d]: boundingBox must have 4 coordinates, got %d", i, len(s.BoundingBox))
		}
	}
	return nil
}

// Adapter calls the suggestion service.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewAdapter creates a suggestion adapter.
func NewAdapter(baseURL string, timeout time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Suggest sends the document text, entities and free-text policy to the
// service and returns the subset of local entity ids it recommends. Boxes
// with no matching local entity are dropped silently. On any failure the
// caller is expected to leave its current selection untouched.
func (a *Adapter) Suggest(ctx context.Context, documentText string, entities []Entity, criteria string) (*Suggestion, error) {
	req := wireRequest{
		DocumentText:     documentText,
		PIIEntities:      []wirePIIEntity{},
		SignatureRegions: []wireSignatureRegion{},
		Criteria:         criteria,
	}
	for _, e := range entities {
		coords := e.Box.Array()
		if e.Signature {
			req.SignatureRegions = append(req.SignatureRegions, wireSignatureRegion{BoundingBox: coords[:]})
		} else {
			req.PIIEntities = append(req.PIIEntities, wirePIIEntity{Type: e.Type, Text: e.Text, BoundingBox: coords[:]})
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrSuggestion, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/suggest_redactions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuggestion, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuggestion, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrSuggestion, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s - %s", ErrSuggestion, resp.Status, string(raw))
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrSuggestion, ErrSchema, err)
	}
	if err := wire.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrSuggestion, ErrSchema, err)
	}

	suggestion := &Suggestion{Reasoning: wire.Reasoning}
	matched := make(map[string]bool)
	dropped := 0
	for _, s := range wire.SuggestedRedactions {
		box, err := geometry.FromArray(s.BoundingBox)
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %v", ErrSuggestion, ErrSchema, err)
		}

		id, ok := matchEntity(entities, box)
		if !ok {
			// Tolerance mismatch or hallucinated coordinates; not an error.
			dropped++
			continue
		}
		if !matched[id] {
			matched[id] = true
			suggestion.RecommendedIDs = append(suggestion.RecommendedIDs, id)
		}
	}

	a.logger.Debug("Suggestions reconciled",
		zap.Int("suggested", len(wire.SuggestedRedactions)),
		zap.Int("matched", len(suggestion.RecommendedIDs)),
		zap.Int("dropped", dropped),
	)

	return suggestion, nil
}

// matchEntity finds the local entity whose box is geometrically identical,
// within tolerance, to the suggested one.
func matchEntity(entities []Entity, box geometry.BoundingBox) (string, bool) {
	for _, e := range entities {
		if geometry.Equals(e.Box, box, BoxEpsilon) {
			return e.ID, true
		}
	}
	return "", false
}
