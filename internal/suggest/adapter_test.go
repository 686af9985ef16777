package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redactly/redactly/internal/geometry"
	"github.com/redactly/redactly/internal/logger"
)

func testAdapterEntities() []Entity {
	return []Entity{
		{ID: "ent-name", Type: "NAME", Text: "Jane Doe", Box: geometry.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 40}},
		{ID: "ent-email", Type: "EMAIL", Text: "jane@example.com", Box: geometry.BoundingBox{X1: 10, Y1: 60, X2: 210, Y2: 80}},
		{ID: "ent-sig", Signature: true, Box: geometry.BoundingBox{X1: 300, Y1: 500, X2: 420, Y2: 560}},
	}
}

func TestSuggestRequestShape(t *testing.T) {
	var got wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/suggest_redactions" {
			t.Errorf("path = %q, want /suggest_redactions", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		io.WriteString(w, `{"suggestedRedactions": [], "reasoning": "nothing sensitive"}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, 5*time.Second, logger.NewNop())
	suggestion, err := adapter.Suggest(context.Background(), "Jane Doe\n", testAdapterEntities(), "redact names")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	if got.DocumentText != "Jane Doe\n" {
		t.Errorf("documentText = %q", got.DocumentText)
	}
	if got.Criteria != "redact names" {
		t.Errorf("criteria = %q", got.Criteria)
	}
	if len(got.PIIEntities) != 2 {
		t.Fatalf("piiEntities = %d, want 2", len(got.PIIEntities))
	}
	if got.PIIEntities[0].Type != "NAME" || len(got.PIIEntities[0].BoundingBox) != 4 {
		t.Errorf("first pii entity = %+v", got.PIIEntities[0])
	}
	if len(got.SignatureRegions) != 1 {
		t.Fatalf("signatureRegions = %d, want 1", len(got.SignatureRegions))
	}

	if len(suggestion.RecommendedIDs) != 0 {
		t.Errorf("recommended = %v, want none", suggestion.RecommendedIDs)
	}
	if suggestion.Reasoning != "nothing sensitive" {
		t.Errorf("reasoning = %q", suggestion.Reasoning)
	}
}

func TestSuggestReconcilesByGeometry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One exact echo, one within tolerance, one unmatched, one duplicate.
		io.WriteString(w, `{
			"suggestedRedactions": [
				{"type": "NAME", "text": "Jane Doe", "boundingBox": [10, 20, 110, 40]},
				{"boundingBox": [300.0004, 500, 420, 559.9996]},
				{"type": "PHONE_NUMBER", "boundingBox": [900, 900, 950, 920]},
				{"type": "NAME", "boundingBox": [10, 20, 110, 40]}
			],
			"reasoning": "names and signatures are sensitive"
		}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, 5*time.Second, logger.NewNop())
	suggestion, err := adapter.Suggest(context.Background(), "doc", testAdapterEntities(), "criteria")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	want := []string{"ent-name", "ent-sig"}
	if len(suggestion.RecommendedIDs) != len(want) {
		t.Fatalf("recommended = %v, want %v", suggestion.RecommendedIDs, want)
	}
	for i, id := range want {
		if suggestion.RecommendedIDs[i] != id {
			t.Fatalf("recommended = %v, want %v", suggestion.RecommendedIDs, want)
		}
	}
}

func TestSuggestSchemaValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"MissingSuggestedRedactions", `{"reasoning": "ok"}`},
		{"ShortBoundingBox", `{"suggestedRedactions": [{"boundingBox": [1, 2, 3]}], "reasoning": "ok"}`},
		{"NotJSON", `oops`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.body)
			}))
			defer server.Close()

			adapter := NewAdapter(server.URL, 5*time.Second, logger.NewNop())
			_, err := adapter.Suggest(context.Background(), "doc", testAdapterEntities(), "criteria")
			if !errors.Is(err, ErrSuggestion) {
				t.Fatalf("got %v, want ErrSuggestion", err)
			}
		})
	}
}

func TestSuggestNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream model error")
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, 5*time.Second, logger.NewNop())
	_, err := adapter.Suggest(context.Background(), "doc", testAdapterEntities(), "criteria")
	if !errors.Is(err, ErrSuggestion) {
		t.Fatalf("got %v, want ErrSuggestion", err)
	}
}

func TestMatchEntity(t *testing.T) {
	entities := testAdapterEntities()

	id, ok := matchEntity(entities, geometry.BoundingBox{X1: 10, Y1: 60, X2: 210, Y2: 80})
	if !ok || id != "ent-email" {
		t.Fatalf("matchEntity = %q, %v", id, ok)
	}

	// Beyond the tolerance, no match.
	if _, ok := matchEntity(entities, geometry.BoundingBox{X1: 10.01, Y1: 60, X2: 210, Y2: 80}); ok {
		t.Fatal("matched a box outside the tolerance")
	}
}
