package workflow_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

func TestStatusStore_SetMergesPatch(t *testing.T) {
	t.Parallel()
	s := workflow.NewStatusStore(workflow.WithStoreLogger(quietLogger()))

	s.Set("a", workflow.StatusIdle, workflow.WithAuto(false), workflow.WithMetadata("seed", 3))
	s.Set("a", workflow.StatusFailed, workflow.WithError("boom"), workflow.WithExecutionTime(time.Second))

	rec, ok := s.Get("a")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Status != workflow.StatusFailed || rec.Error != "boom" || rec.ExecutionTime != time.Second {
		t.Errorf("record = %+v", rec)
	}
	if rec.Auto {
		t.Error("auto flag was not preserved")
	}
	if rec.Metadata["seed"] != 3 {
		t.Errorf("metadata = %v, want seed preserved", rec.Metadata)
	}
	if rec.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}

	// Entering processing clears the previous attempt.
	s.Set("a", workflow.StatusProcessing)
	rec, _ = s.Get("a")
	if rec.Error != "" || rec.ExecutionTime != 0 {
		t.Errorf("processing record kept error/timing: %+v", rec)
	}
}

func TestStatusStore_FailedKeepsPriorError(t *testing.T) {
	t.Parallel()
	s := workflow.NewStatusStore(workflow.WithStoreLogger(quietLogger()))

	s.Set("a", workflow.StatusFailed, workflow.WithError("boom"))
	s.Set("a", workflow.StatusFailed, workflow.WithExecutionTime(2*time.Second))

	rec, _ := s.Get("a")
	if rec.Error != "boom" {
		t.Errorf("error = %q, want prior error kept", rec.Error)
	}
	if rec.ExecutionTime != 2*time.Second {
		t.Errorf("execution time = %v, want 2s", rec.ExecutionTime)
	}
}

func TestStatusStore_NewRecordDefaultsToAuto(t *testing.T) {
	t.Parallel()
	s := workflow.NewStatusStore()
	s.Set("a", workflow.StatusCompleted)
	if rec, _ := s.Get("a"); !rec.Auto {
		t.Error("new record should default to auto")
	}
}

func TestStatusStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := workflow.NewStatusStore()
	s.Set("a", workflow.StatusIdle, workflow.WithMetadata("k", "v"))
	rec, _ := s.Get("a")
	rec.Metadata["k"] = "changed"
	if got, _ := s.Get("a"); got.Metadata["k"] != "v" {
		t.Error("Get exposed internal metadata map")
	}
}

func TestStatusStore_ResetAndClear(t *testing.T) {
	t.Parallel()
	s := workflow.NewStatusStore()
	s.Set("a", workflow.StatusFailed, workflow.WithAuto(false), workflow.WithError("x"))
	s.Reset("a")
	rec, _ := s.Get("a")
	if diff := cmp.Diff(workflow.StatusRecord{Status: workflow.StatusIdle, Auto: false}, rec,
		cmpIgnoreTime()); diff != "" {
		t.Errorf("reset record mismatch (-want +got):\n%s", diff)
	}

	s.Set("b", workflow.StatusCompleted)
	s.Clear("a")
	if _, ok := s.Get("a"); ok {
		t.Error("Clear left the record")
	}
	s.ClearAll()
	if n := len(s.All()); n != 0 {
		t.Errorf("ClearAll left %d records", n)
	}
}

func TestStatusStore_MirrorsToObserver(t *testing.T) {
	t.Parallel()
	obs := workflow.NewMemoryObserver(nil)
	s := workflow.NewStatusStore(workflow.WithObserver(obs))
	s.Set("a", workflow.StatusProcessing)
	s.UpdateMetadata("a", map[string]any{"progress": 0.5})
	s.Set("b", workflow.StatusIdle)
	s.Clear("b")
	s.Close()

	rec, ok := obs.GetStatus("a")
	if !ok || rec.Status != workflow.StatusProcessing || rec.Metadata["progress"] != 0.5 {
		t.Errorf("observer record = %+v, %v", rec, ok)
	}
	if _, ok := obs.GetStatus("b"); ok {
		t.Error("observer kept a cleared record")
	}

	// Writes after Close are not mirrored but still stored.
	s.Set("c", workflow.StatusIdle)
	if _, ok := obs.GetStatus("c"); ok {
		t.Error("write after Close was mirrored")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("store rejected write after Close")
	}
	s.Close()
}

func TestStatusStore_SeedsFromObserver(t *testing.T) {
	t.Parallel()
	obs := workflow.NewMemoryObserver(nil)
	obs.SetStatus([]workflow.StatusUpdate{{
		NodeID: "a",
		Record: workflow.StatusRecord{Status: workflow.StatusCompleted, Auto: true},
	}})
	s := workflow.NewStatusStore(workflow.WithObserver(obs))
	defer s.Close()
	if rec, ok := s.Get("a"); !ok || rec.Status != workflow.StatusCompleted {
		t.Errorf("seeded record = %+v, %v", rec, ok)
	}
}

func cmpIgnoreTime() cmp.Option {
	return cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".LastUpdated"
	}, cmp.Ignore())
}
