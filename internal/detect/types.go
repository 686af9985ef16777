package detect

import (
	"encoding/json"
	"strings"

	"github.com/redactly/redactly/internal/geometry"
)

// PIIDetection is one PII span returned by the detection service.
type PIIDetection struct {
	Type       string               `json:"type"`
	Value      string               `json:"value"`
	Confidence float64              `json:"confidence"`
	BBox       geometry.BoundingBox `json:"bbox"`
}

// Signature is one signature region returned by the detection service.
type Signature struct {
	BBox       geometry.BoundingBox `json:"bbox"`
	Confidence float64              `json:"confidence"`
}

// OCRBlock is one recognized text block.
type OCRBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCRPage groups the text blocks of one page.
type OCRPage struct {
	PageNumber int        `json:"page_number"`
	Blocks     []OCRBlock `json:"blocks"`
}

// OCR is the recognized-text portion of a detection response.
type OCR struct {
	Pages []OCRPage `json:"pages"`
}

// Result is the decoded response of one process_document call. Raw holds the
// response body verbatim so sessions can expose it for inspection.
type Result struct {
	PIIDetection []PIIDetection `json:"pii_detection"`
	Signatures   []Signature    `json:"signatures"`
	OCR          *OCR           `json:"ocr"`

	Raw []byte `json:"-"`
}

// ParseResult decodes a raw detection response body.
func ParseResult(raw []byte) (*Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	result.Raw = raw
	return &result, nil
}

// DocumentText flattens the OCR blocks into one newline-joined string, the
// form the suggestion service consumes.
func (r *Result) DocumentText() string {
	if r.OCR == nil {
		return ""
	}
	var sb strings.Builder
	for _, page := range r.OCR.Pages {
		for _, block := range page.Blocks {
			sb.WriteString(block.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
