package workflow

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

const defaultMirrorBuffer = 256

// StatusUpdate carries one node's full record to an observer.
type StatusUpdate struct {
	NodeID string
	Record StatusRecord
}

// StatusObserver is an external view of node statuses, typically a UI state
// layer. The store mirrors every write to it on a best-effort basis.
type StatusObserver interface {
	SetStatus(updates []StatusUpdate)
	GetStatus(id string) (StatusRecord, bool)
	GetAll() map[string]StatusRecord
	UpdateMetadata(id string, patch map[string]any)
	Clear(id string)
	ClearAll()
}

// Patch modifies a record inside StatusStore.Set.
type Patch func(*StatusRecord)

// WithAuto sets the record's auto-run flag.
func WithAuto(auto bool) Patch {
	return func(r *StatusRecord) { r.Auto = auto }
}

// WithError sets the record's error message.
func WithError(msg string) Patch {
	return func(r *StatusRecord) { r.Error = msg }
}

// WithExecutionTime sets how long the last execution took.
func WithExecutionTime(d time.Duration) Patch {
	return func(r *StatusRecord) { r.ExecutionTime = d }
}

// WithResult stores the raw executor result.
func WithResult(res *ExecutionResult) Patch {
	return func(r *StatusRecord) { r.Result = res }
}

// WithMetadata sets one free-form metadata entry.
func WithMetadata(key string, value any) Patch {
	return func(r *StatusRecord) {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any)
		}
		r.Metadata[key] = value
	}
}

type mirrorKind int

const (
	mirrorSet mirrorKind = iota
	mirrorMetadata
	mirrorClear
	mirrorClearAll
)

type mirrorOp struct {
	kind   mirrorKind
	id     string
	record StatusRecord
	meta   map[string]any
}

// StatusStore holds the lifecycle record of every node. Its cache is the
// source of truth during a run; an optional observer receives a copy of every
// write without ever being on the caller's path.
type StatusStore struct {
	mu      sync.RWMutex
	records map[string]StatusRecord

	observer StatusObserver
	logger   *slog.Logger
	bufSize  int
	ops      chan mirrorOp
	done     chan struct{}
	closed   bool
}

// StoreOption configures a StatusStore.
type StoreOption func(*StatusStore)

// WithObserver mirrors every write to obs and seeds the store from it.
func WithObserver(obs StatusObserver) StoreOption {
	return func(s *StatusStore) { s.observer = obs }
}

// WithStoreLogger sets the logger used for mirror warnings.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *StatusStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMirrorBuffer sets how many pending observer updates may be queued
// before new ones are dropped. A value <= 0 uses the default (256).
func WithMirrorBuffer(n int) StoreOption {
	return func(s *StatusStore) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// NewStatusStore creates an empty store.
func NewStatusStore(opts ...StoreOption) *StatusStore {
	s := &StatusStore{
		records: make(map[string]StatusRecord),
		logger:  slog.Default(),
		bufSize: defaultMirrorBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer != nil {
		s.seed()
		s.ops = make(chan mirrorOp, s.bufSize)
		s.done = make(chan struct{})
		go s.mirror()
	}
	return s
}

// Get returns a copy of the record for id.
func (s *StatusStore) Get(id string) (StatusRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return StatusRecord{}, false
	}
	return cloneRecord(rec), true
}

// All returns a copy of every record.
func (s *StatusStore) All() map[string]StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StatusRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = cloneRecord(rec)
	}
	return out
}

// Set transitions id to status and merges patch into its record. Fields the
// patch does not touch keep their previous values, except that entering
// StatusProcessing clears the error and execution time of the prior attempt.
// A record that does not exist yet is created with auto-run enabled.
func (s *StatusStore) Set(id string, status NodeStatus, patch ...Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(id, status, patch)
}

func (s *StatusStore) setLocked(id string, status NodeStatus, patch []Patch) StatusRecord {
	rec, ok := s.records[id]
	if !ok {
		rec = StatusRecord{Auto: true}
	}
	rec = cloneRecord(rec)
	if status == StatusProcessing {
		rec.Error = ""
		rec.ExecutionTime = 0
	}
	rec.Status = status
	for _, p := range patch {
		p(&rec)
	}
	rec.LastUpdated = time.Now()
	s.records[id] = rec
	s.enqueue(mirrorOp{kind: mirrorSet, id: id, record: cloneRecord(rec)})
	return rec
}

// UpdateMetadata merges meta into the free-form metadata of id without
// changing its status.
func (s *StatusStore) UpdateMetadata(id string, meta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		rec = StatusRecord{Status: StatusIdle, Auto: true}
	}
	rec = cloneRecord(rec)
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any, len(meta))
	}
	maps.Copy(rec.Metadata, meta)
	rec.LastUpdated = time.Now()
	s.records[id] = rec
	s.enqueue(mirrorOp{kind: mirrorMetadata, id: id, meta: maps.Clone(meta)})
}

// Reset returns id to idle so it can run again. The auto-run flag is kept;
// error, timing, result and metadata are dropped.
func (s *StatusStore) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auto := true
	if rec, ok := s.records[id]; ok {
		auto = rec.Auto
	}
	rec := StatusRecord{Status: StatusIdle, Auto: auto, LastUpdated: time.Now()}
	s.records[id] = rec
	s.enqueue(mirrorOp{kind: mirrorSet, id: id, record: rec})
}

// Clear removes the record for id.
func (s *StatusStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	s.enqueue(mirrorOp{kind: mirrorClear, id: id})
}

// ClearAll removes every record.
func (s *StatusStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]StatusRecord)
	s.enqueue(mirrorOp{kind: mirrorClearAll})
}

// Close stops mirroring after every queued update has been delivered.
// The store stays usable; later writes are no longer mirrored.
func (s *StatusStore) Close() {
	s.mu.Lock()
	if s.ops == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}

// seedIfIdle creates id as an idle record with the given auto flag unless a
// record already exists past idle. It reports whether a write happened.
func (s *StatusStore) seedIfIdle(id string, auto bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status.Started() {
		return false
	}
	s.setLocked(id, StatusIdle, []Patch{WithAuto(auto)})
	return true
}

// claim atomically moves id to processing if it has not started and every
// id in deps is completed.
func (s *StatusStore) claim(id string, deps []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status.Started() {
		return false
	}
	for _, dep := range deps {
		if s.records[dep].Status != StatusCompleted {
			return false
		}
	}
	s.setLocked(id, StatusProcessing, nil)
	return true
}

// enqueue hands op to the mirror goroutine without blocking. Callers hold mu.
func (s *StatusStore) enqueue(op mirrorOp) {
	if s.ops == nil || s.closed {
		return
	}
	select {
	case s.ops <- op:
	default:
		s.logger.Warn("status observer queue full, dropping update", "node", op.id)
	}
}

func (s *StatusStore) mirror() {
	defer close(s.done)
	for op := range s.ops {
		s.deliver(op)
	}
}

func (s *StatusStore) deliver(op mirrorOp) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("status observer panicked", "node", op.id, "panic", r)
		}
	}()
	switch op.kind {
	case mirrorSet:
		s.observer.SetStatus([]StatusUpdate{{NodeID: op.id, Record: op.record}})
	case mirrorMetadata:
		s.observer.UpdateMetadata(op.id, op.meta)
	case mirrorClear:
		s.observer.Clear(op.id)
	case mirrorClearAll:
		s.observer.ClearAll()
	}
}

func (s *StatusStore) seed() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("status observer snapshot failed", "panic", r)
		}
	}()
	for id, rec := range s.observer.GetAll() {
		s.records[id] = cloneRecord(rec)
	}
}

func cloneRecord(r StatusRecord) StatusRecord {
	if r.Metadata != nil {
		r.Metadata = maps.Clone(r.Metadata)
	}
	return r
}
