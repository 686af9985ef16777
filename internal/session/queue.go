package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/redactly/redactly/internal/cache"
	"github.com/redactly/redactly/internal/detect"
	"github.com/redactly/redactly/internal/geometry"
	"github.com/redactly/redactly/internal/logger"
	"github.com/redactly/redactly/internal/redact"
	"github.com/redactly/redactly/internal/suggest"
)

// Detector is the boundary to the external detection service.
type Detector interface {
	ProcessDocument(ctx context.Context, filename string, data []byte, useLLM bool) (*detect.Result, error)
}

// Suggester is the boundary to the external suggestion service.
type Suggester interface {
	Suggest(ctx context.Context, documentText string, entities []suggest.Entity, criteria string) (*suggest.Suggestion, error)
}

// Notifier receives a snapshot after every observable state transition.
type Notifier func(Snapshot)

// Queue is the bounded collection of file sessions. Sessions progress
// concurrently with respect to each other; operations within one session are
// strictly sequential.
type Queue struct {
	mu       sync.Mutex
	sessions map[string]*FileSession
	order    []string
	cancels  map[string]context.CancelFunc

	capacity  int
	detector  Detector
	suggester Suggester
	cache     *cache.DetectionCache // nil when caching is disabled
	logger    *logger.Logger
	notify    Notifier
}

// NewQueue creates a session queue. The notifier may be nil.
func NewQueue(capacity int, detector Detector, suggester Suggester, detCache *cache.DetectionCache, log *logger.Logger, notify Notifier) *Queue {
	if notify == nil {
		notify = func(Snapshot) {}
	}
	return &Queue{
		sessions:  make(map[string]*FileSession),
		cancels:   make(map[string]context.CancelFunc),
		capacity:  capacity,
		detector:  detector,
		suggester: suggester,
		cache:     detCache,
		logger:    log,
		notify:    notify,
	}
}

// Add admits a new file into the queue and starts its pipeline. Files beyond
// the capacity are rejected outright, not queued; duplicate filenames are
// rejected so re-drops of the same document do not fork state.
func (q *Queue) Add(filename, mimeType string, data []byte, useLLM bool) (Snapshot, error) {
	q.mu.Lock()
	if len(q.sessions) >= q.capacity {
		q.mu.Unlock()
		return Snapshot{}, ErrCapacity
	}
	for _, id := range q.order {
		if q.sessions[id].filename == filename {
			q.mu.Unlock()
			return Snapshot{}, ErrDuplicate
		}
	}

	fs := newFileSession(filename, mimeType, data, useLLM)
	ctx, cancel := context.WithCancel(context.Background())
	q.sessions[fs.id] = fs
	q.order = append(q.order, fs.id)
	q.cancels[fs.id] = cancel
	q.mu.Unlock()

	q.logger.Info("Session created",
		zap.String("session_id", fs.id),
		zap.String("filename", filename),
		zap.String("mime_type", mimeType),
		zap.Bool("use_llm", useLLM),
		zap.Int("bytes", len(data)),
	)

	go q.process(ctx, fs, data, useLLM)

	return fs.Snapshot(), nil
}

// process drives one session through upload, detection and entity ingestion.
// Removal cancels ctx; after cancellation no further transition is applied,
// so an in-flight result for a removed session is discarded.
func (q *Queue) process(ctx context.Context, fs *FileSession, data []byte, useLLM bool) {
	step := func(apply func() error) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := apply(); err != nil {
			q.logger.Error("Session transition rejected",
				zap.String("session_id", fs.id), zap.Error(err))
			return false
		}
		q.notify(fs.Snapshot())
		return true
	}

	if !step(fs.beginUpload) {
		return
	}
	if !step(fs.beginProcessing) {
		return
	}

	result, err := q.detectDocument(ctx, fs, data, useLLM)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		step(func() error { return fs.failDetection(err.Error()) })
		return
	}

	entities := make([]Entity, 0, len(result.PIIDetection)+len(result.Signatures))
	for _, p := range result.PIIDetection {
		entities = append(entities, NewPIIEntity(p.Type, p.Value, p.BBox))
	}
	for _, s := range result.Signatures {
		entities = append(entities, NewSignatureEntity(s.BBox))
	}

	if step(func() error {
		return fs.completeDetection(entities, result.DocumentText(), result.Raw)
	}) {
		q.logger.Info("Detection completed",
			zap.String("session_id", fs.id),
			zap.Int("entities", len(entities)),
		)
	}
}

// detectDocument consults the cache before calling the detection service,
// and feeds the cache on a fresh response.
func (q *Queue) detectDocument(ctx context.Context, fs *FileSession, data []byte, useLLM bool) (*detect.Result, error) {
	if q.cache != nil {
		key := q.cache.Key(data, useLLM)
		if raw, ok := q.cache.Get(ctx, key); ok {
			if result, err := detect.ParseResult(raw); err == nil {
				return result, nil
			}
			// Corrupted entry; fall through to the service.
		}

		result, err := q.detector.ProcessDocument(ctx, fs.filename, data, useLLM)
		if err != nil {
			return nil, err
		}
		if storeErr := q.cache.Store(ctx, key, result.Raw); storeErr != nil {
			q.logger.Warn("Detection cache store failed", zap.Error(storeErr))
		}
		return result, nil
	}

	return q.detector.ProcessDocument(ctx, fs.filename, data, useLLM)
}

// Get returns a snapshot of one session.
func (q *Queue) Get(id string) (Snapshot, error) {
	fs, err := q.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return fs.Snapshot(), nil
}

// List returns snapshots of all sessions in insertion order.
func (q *Queue) List() []Snapshot {
	q.mu.Lock()
	sessions := make([]*FileSession, 0, len(q.order))
	for _, id := range q.order {
		sessions = append(sessions, q.sessions[id])
	}
	q.mu.Unlock()

	snaps := make([]Snapshot, len(sessions))
	for i, fs := range sessions {
		snaps[i] = fs.Snapshot()
	}
	return snaps
}

// Remove deletes a session and cancels any in-flight work for it. A removed
// session is never resurrected and no transition of it is observable
// afterwards.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	fs, ok := q.sessions[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	delete(q.sessions, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	cancel := q.cancels[id]
	delete(q.cancels, id)
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.logger.Info("Session removed",
		zap.String("session_id", id),
		zap.String("filename", fs.filename),
	)
	return nil
}

// Toggle flips one entity's selection.
func (q *Queue) Toggle(id, entityID string) (Snapshot, error) {
	return q.mutate(id, func(fs *FileSession) error { return fs.Toggle(entityID) })
}

// SelectAll selects every entity of the given kind (all kinds when empty).
func (q *Queue) SelectAll(id string, kind Kind) (Snapshot, error) {
	return q.mutate(id, func(fs *FileSession) error { return fs.SelectAll(kind) })
}

// DeselectAll deselects every entity of the given kind (all kinds when
// empty).
func (q *Queue) DeselectAll(id string, kind Kind) (Snapshot, error) {
	return q.mutate(id, func(fs *FileSession) error { return fs.DeselectAll(kind) })
}

// SetOptions updates a session's redaction options.
func (q *Queue) SetOptions(id string, opts redact.Options) (Snapshot, error) {
	return q.mutate(id, func(fs *FileSession) error { return fs.SetOptions(opts) })
}

// Suggest runs the suggestion flow for one session: it ships the document
// text and entities to the suggestion service and, on success, replaces the
// session's selection with the recommended subset. On failure the existing
// selection is left untouched.
func (q *Queue) Suggest(ctx context.Context, id, criteria string) (Snapshot, string, error) {
	fs, err := q.lookup(id)
	if err != nil {
		return Snapshot{}, "", err
	}

	snap := fs.Snapshot()
	if snap.Status != StatusCompleted.String() {
		return Snapshot{}, "", ErrConflict
	}

	entities := make([]suggest.Entity, len(snap.Entities))
	for i, e := range snap.Entities {
		entities[i] = suggest.Entity{
			ID:        e.ID,
			Signature: e.Kind == KindSignature,
			Type:      e.Type,
			Text:      e.Text,
			Box:       e.Box,
		}
	}

	suggestion, err := q.suggester.Suggest(ctx, snap.DocumentText, entities, criteria)
	if err != nil {
		return Snapshot{}, "", err
	}

	if err := fs.ReplaceSelection(suggestion.RecommendedIDs); err != nil {
		return Snapshot{}, "", err
	}

	out := fs.Snapshot()
	q.notify(out)
	q.logger.Info("Suggestions applied",
		zap.String("session_id", id),
		zap.Int("recommended", len(suggestion.RecommendedIDs)),
	)
	return out, suggestion.Reasoning, nil
}

// Redact composites the selected regions over the session's original image.
// A failed attempt returns the session to completed with the error attached
// rather than leaving it stuck in redacting.
func (q *Queue) Redact(id string) (Snapshot, error) {
	fs, err := q.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	input, err := fs.beginRedact()
	if err != nil {
		return Snapshot{}, err
	}
	q.notify(fs.Snapshot())

	regions := make([]geometry.BoundingBox, len(input.entities))
	for i, e := range input.entities {
		regions[i] = e.Box
	}

	out, err := redact.Apply(input.data, input.mimeType, regions, input.options)
	if err != nil {
		q.logger.Error("Redaction failed",
			zap.String("session_id", id), zap.Error(err))
		if ferr := fs.failRedact(err.Error()); ferr != nil {
			q.logger.Error("Session transition rejected",
				zap.String("session_id", id), zap.Error(ferr))
		}
		q.notify(fs.Snapshot())
		return Snapshot{}, err
	}

	if err := fs.finishRedact(out); err != nil {
		return Snapshot{}, err
	}

	snap := fs.Snapshot()
	q.notify(snap)
	q.logger.Info("Redaction completed",
		zap.String("session_id", id),
		zap.Int("regions", len(regions)),
		zap.Int("output_bytes", len(out)),
	)
	return snap, nil
}

// Output returns a session's redacted bytes with its download filename.
func (q *Queue) Output(id string) ([]byte, string, string, error) {
	fs, err := q.lookup(id)
	if err != nil {
		return nil, "", "", err
	}
	return fs.Output()
}

// Len returns the number of queued sessions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions)
}

func (q *Queue) lookup(id string) (*FileSession, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fs, ok := q.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return fs, nil
}

func (q *Queue) mutate(id string, op func(*FileSession) error) (Snapshot, error) {
	fs, err := q.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := op(fs); err != nil {
		return Snapshot{}, err
	}
	snap := fs.Snapshot()
	q.notify(snap)
	return snap, nil
}
