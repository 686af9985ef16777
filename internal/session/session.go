// Package session owns the per-file redaction lifecycle: the state machine
// that sequences upload, detection, selection and redaction, and the bounded
// queue that processes files concurrently.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redactly/redactly/internal/redact"
)

// Status is a session's position in the lifecycle. Transitions are totally
// ordered within one session; see the transition methods below.
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusProcessing
	StatusCompleted
	StatusError
	StatusRedacting
	StatusRedacted
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusRedacting:
		return "redacting"
	case StatusRedacted:
		return "redacted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// FileSession is the unit of work for one uploaded image. The original image
// bytes are retained for the session's full lifetime: every redact operation
// re-composites from the original, never from a previous output, so repeated
// redaction accumulates no artifacts.
type FileSession struct {
	mu sync.Mutex

	id       string
	filename string
	mimeType string
	original []byte
	useLLM   bool

	status       Status
	entities     []Entity
	selection    SelectionSet
	options      redact.Options
	documentText string
	rawDetection []byte
	redacted     []byte
	lastErr      string
	createdAt    time.Time
}

func newFileSession(filename, mimeType string, data []byte, useLLM bool) *FileSession {
	return &FileSession{
		id:        uuid.NewString(),
		filename:  filename,
		mimeType:  mimeType,
		original:  data,
		useLLM:    useLLM,
		status:    StatusPending,
		selection: NewSelectionSet(),
		options:   redact.Defaults(),
		createdAt: time.Now(),
	}
}

// Snapshot is an immutable view of a session for API responses and events.
type Snapshot struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	MIMEType     string         `json:"mimeType"`
	Status       string         `json:"status"`
	UseLLM       bool           `json:"useLLM"`
	Entities     []Entity       `json:"entities"`
	Selected     []string       `json:"selected"`
	Options      redact.Options `json:"options"`
	Error        string         `json:"error,omitempty"`
	HasRedacted  bool           `json:"hasRedacted"`
	CreatedAt    time.Time      `json:"createdAt"`
	DocumentText string         `json:"-"`
	RawDetection []byte         `json:"-"`
}

// Snapshot returns a point-in-time copy of the session.
func (fs *FileSession) Snapshot() Snapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.snapshotLocked()
}

func (fs *FileSession) snapshotLocked() Snapshot {
	entities := make([]Entity, len(fs.entities))
	copy(entities, fs.entities)

	return Snapshot{
		ID:           fs.id,
		Filename:     fs.filename,
		MIMEType:     fs.mimeType,
		Status:       fs.status.String(),
		UseLLM:       fs.useLLM,
		Entities:     entities,
		Selected:     fs.selection.IDs(),
		Options:      fs.options,
		Error:        fs.lastErr,
		HasRedacted:  len(fs.redacted) > 0,
		CreatedAt:    fs.createdAt,
		DocumentText: fs.documentText,
		RawDetection: fs.rawDetection,
	}
}

// beginUpload moves pending -> uploading. Triggered once, when the session
// enters the queue's pipeline.
func (fs *FileSession) beginUpload() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusPending {
		return fmt.Errorf("%w: cannot upload from %s", ErrConflict, fs.status)
	}
	fs.status = StatusUploading
	return nil
}

// beginProcessing moves uploading -> processing once the payload has been
// accepted.
func (fs *FileSession) beginProcessing() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusUploading {
		return fmt.Errorf("%w: cannot process from %s", ErrConflict, fs.status)
	}
	fs.status = StatusProcessing
	return nil
}

// completeDetection ingests the detection result. Entity identities are
// assigned here, once, and the selection set defaults to every detected
// entity: the policy is "redact everything detected" until the user
// deselects.
func (fs *FileSession) completeDetection(entities []Entity, documentText string, raw []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusProcessing {
		return fmt.Errorf("%w: cannot complete from %s", ErrConflict, fs.status)
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}

	fs.status = StatusCompleted
	fs.entities = entities
	fs.selection = NewSelectionSet(ids...)
	fs.documentText = documentText
	fs.rawDetection = raw
	fs.lastErr = ""
	return nil
}

// failDetection moves processing -> error. Detection failures are terminal
// for the session.
func (fs *FileSession) failDetection(msg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusProcessing {
		return fmt.Errorf("%w: cannot fail from %s", ErrConflict, fs.status)
	}
	fs.status = StatusError
	fs.lastErr = msg
	return nil
}

// editableLocked reports whether selection and option edits are currently
// legal: the entity list must be populated and no redaction in flight.
func (fs *FileSession) editableLocked() error {
	if fs.status != StatusCompleted {
		return fmt.Errorf("%w: selection edits require a completed session, status is %s", ErrConflict, fs.status)
	}
	return nil
}

// Toggle flips one entity's membership in the selection set. Toggling twice
// restores the original set.
func (fs *FileSession) Toggle(entityID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.editableLocked(); err != nil {
		return err
	}
	if !fs.hasEntityLocked(entityID) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	fs.selection = fs.selection.Toggle(entityID)
	return nil
}

// SelectAll adds every entity of the given kind to the selection. An empty
// kind selects everything.
func (fs *FileSession) SelectAll(kind Kind) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.editableLocked(); err != nil {
		return err
	}
	fs.selection = fs.selection.Add(fs.entityIDsLocked(kind)...)
	return nil
}

// DeselectAll removes every entity of the given kind from the selection. An
// empty kind deselects everything.
func (fs *FileSession) DeselectAll(kind Kind) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.editableLocked(); err != nil {
		return err
	}
	fs.selection = fs.selection.Remove(fs.entityIDsLocked(kind)...)
	return nil
}

// ReplaceSelection swaps the selection set wholesale. Used by the suggestion
// flow, which replaces rather than merges.
func (fs *FileSession) ReplaceSelection(ids []string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.editableLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		if !fs.hasEntityLocked(id) {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
		}
	}
	fs.selection = NewSelectionSet(ids...)
	return nil
}

// SetOptions updates the redaction options. Options stay mutable until the
// session reaches its terminal redacted state.
func (fs *FileSession) SetOptions(opts redact.Options) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status == StatusRedacting || fs.status == StatusRedacted {
		return fmt.Errorf("%w: options are frozen once redaction starts", ErrConflict)
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	fs.options = opts
	return nil
}

// redactionInput captures everything a redact operation needs, extracted
// under the session lock.
type redactionInput struct {
	data     []byte
	mimeType string
	entities []Entity
	options  redact.Options
}

// beginRedact validates the redact guards and moves completed -> redacting.
// On any guard failure the state is unchanged and the action is reported to
// the caller.
func (fs *FileSession) beginRedact() (redactionInput, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.status != StatusCompleted {
		return redactionInput{}, fmt.Errorf("%w: redact requires a completed session, status is %s", ErrConflict, fs.status)
	}
	if len(fs.selection) == 0 {
		return redactionInput{}, ErrNoSelection
	}
	if len(fs.original) == 0 {
		return redactionInput{}, ErrMissingOriginal
	}

	selected := make([]Entity, 0, len(fs.selection))
	for _, e := range fs.entities {
		if fs.selection.Has(e.ID) {
			selected = append(selected, e)
		}
	}

	fs.status = StatusRedacting
	return redactionInput{
		data:     fs.original,
		mimeType: fs.mimeType,
		entities: selected,
		options:  fs.options,
	}, nil
}

// finishRedact stores the output and moves redacting -> redacted.
func (fs *FileSession) finishRedact(redacted []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusRedacting {
		return fmt.Errorf("%w: cannot finish redact from %s", ErrConflict, fs.status)
	}
	fs.status = StatusRedacted
	fs.redacted = redacted
	fs.lastErr = ""
	return nil
}

// failRedact returns the session to completed with the error attached, so
// the user may adjust selections or options and retry.
func (fs *FileSession) failRedact(msg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusRedacting {
		return fmt.Errorf("%w: cannot fail redact from %s", ErrConflict, fs.status)
	}
	fs.status = StatusCompleted
	fs.lastErr = msg
	return nil
}

// Output returns the redacted bytes, the download filename and the MIME
// type. Only legal in the terminal redacted state.
func (fs *FileSession) Output() ([]byte, string, string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.status != StatusRedacted || len(fs.redacted) == 0 {
		return nil, "", "", fmt.Errorf("%w: no redacted output available", ErrConflict)
	}
	out := make([]byte, len(fs.redacted))
	copy(out, fs.redacted)
	return out, "redacted-" + fs.filename, fs.mimeType, nil
}

func (fs *FileSession) hasEntityLocked(id string) bool {
	for _, e := range fs.entities {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (fs *FileSession) entityIDsLocked(kind Kind) []string {
	var ids []string
	for _, e := range fs.entities {
		if kind == "" || e.Kind == kind {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
