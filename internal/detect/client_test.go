package detect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redactly/redactly/internal/logger"
)

const sampleResponse = `{
	"pii_detection": [
		{"type": "NAME", "value": "Jane Doe", "confidence": 0.97, "bbox": {"x1": 10, "y1": 20, "x2": 110, "y2": 40}},
		{"type": "EMAIL", "value": "jane@example.com", "confidence": 0.91, "bbox": {"x1": 10, "y1": 60, "x2": 210, "y2": 80}}
	],
	"signatures": [
		{"bbox": {"x1": 300, "y1": 500, "x2": 420, "y2": 560}, "confidence": 0.85}
	],
	"ocr": {
		"pages": [
			{"page_number": 1, "blocks": [
				{"text": "Jane Doe", "confidence": 0.99},
				{"text": "jane@example.com", "confidence": 0.98}
			]}
		]
	}
}`

func TestProcessDocument(t *testing.T) {
	var (
		gotFilename string
		gotUseLLM   string
		gotFileData []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process_document" {
			t.Errorf("path = %q, want /process_document", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		gotUseLLM = r.FormValue("use_llm")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("reading file part: %v", err)
		}
		defer file.Close()
		gotFilename = header.Filename
		gotFileData, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, sampleResponse)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, logger.NewNop())
	result, err := client.ProcessDocument(context.Background(), "scan.png", []byte("image-bytes"), true)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	if gotFilename != "scan.png" {
		t.Errorf("uploaded filename = %q", gotFilename)
	}
	if string(gotFileData) != "image-bytes" {
		t.Errorf("uploaded data = %q", gotFileData)
	}
	if gotUseLLM != "true" {
		t.Errorf("use_llm field = %q, want true", gotUseLLM)
	}

	if len(result.PIIDetection) != 2 {
		t.Fatalf("pii detections = %d, want 2", len(result.PIIDetection))
	}
	if result.PIIDetection[0].Type != "NAME" || result.PIIDetection[0].Value != "Jane Doe" {
		t.Errorf("first detection = %+v", result.PIIDetection[0])
	}
	if got := result.PIIDetection[0].BBox; got.X1 != 10 || got.Y2 != 40 {
		t.Errorf("first bbox = %+v", got)
	}
	if len(result.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(result.Signatures))
	}
	if len(result.Raw) == 0 {
		t.Error("raw response not retained")
	}
}

func TestProcessDocumentNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail": "model not loaded"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, logger.NewNop())
	_, err := client.ProcessDocument(context.Background(), "scan.png", []byte("x"), false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
	// The upstream body is preserved verbatim for diagnosis.
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("error does not carry response body: %v", err)
	}
}

func TestProcessDocumentConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	client := NewClient(server.URL, time.Second, logger.NewNop())
	_, err := client.ProcessDocument(context.Background(), "scan.png", []byte("x"), false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestProcessDocumentMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, logger.NewNop())
	_, err := client.ProcessDocument(context.Background(), "scan.png", []byte("x"), false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestDocumentText(t *testing.T) {
	result, err := ParseResult([]byte(sampleResponse))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	want := "Jane Doe\njane@example.com\n"
	if got := result.DocumentText(); got != want {
		t.Fatalf("DocumentText() = %q, want %q", got, want)
	}
}

func TestDocumentTextWithoutOCR(t *testing.T) {
	result, err := ParseResult([]byte(`{"pii_detection": [], "signatures": []}`))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if got := result.DocumentText(); got != "" {
		t.Fatalf("DocumentText() = %q, want empty", got)
	}
}
