package workflow

import (
	"maps"
	"sync"
)

// MemoryObserver is an in-memory StatusObserver. It keeps the latest record
// per node plus the sequence of statuses each node was reported in.
type MemoryObserver struct {
	mu      sync.RWMutex
	records map[string]StatusRecord
	history map[string][]NodeStatus
	notify  func(StatusUpdate)
}

// NewMemoryObserver creates an empty MemoryObserver. If notify is non-nil it
// is called, in order, for every status update the observer receives.
func NewMemoryObserver(notify func(StatusUpdate)) *MemoryObserver {
	return &MemoryObserver{
		records: make(map[string]StatusRecord),
		history: make(map[string][]NodeStatus),
		notify:  notify,
	}
}

func (o *MemoryObserver) SetStatus(updates []StatusUpdate) {
	o.mu.Lock()
	for _, u := range updates {
		o.records[u.NodeID] = cloneRecord(u.Record)
		o.history[u.NodeID] = append(o.history[u.NodeID], u.Record.Status)
	}
	o.mu.Unlock()

	if o.notify != nil {
		for _, u := range updates {
			o.notify(u)
		}
	}
}

func (o *MemoryObserver) GetStatus(id string) (StatusRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.records[id]
	if !ok {
		return StatusRecord{}, false
	}
	return cloneRecord(rec), true
}

func (o *MemoryObserver) GetAll() map[string]StatusRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]StatusRecord, len(o.records))
	for id, rec := range o.records {
		out[id] = cloneRecord(rec)
	}
	return out
}

func (o *MemoryObserver) UpdateMetadata(id string, patch map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec := cloneRecord(o.records[id])
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any, len(patch))
	}
	maps.Copy(rec.Metadata, patch)
	o.records[id] = rec
}

func (o *MemoryObserver) Clear(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.records, id)
	delete(o.history, id)
}

func (o *MemoryObserver) ClearAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = make(map[string]StatusRecord)
	o.history = make(map[string][]NodeStatus)
}

// History returns the statuses reported for id, oldest first.
func (o *MemoryObserver) History(id string) []NodeStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]NodeStatus(nil), o.history[id]...)
}
