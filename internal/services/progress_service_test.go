package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker_SubscribeAndComplete(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task-1", "pipeline")
	assert.Same(t, tracker, svc.CreateTracker("task-1", "pipeline"))

	ch := tracker.Subscribe()
	first := <-ch
	assert.Equal(t, StatusRunning, first.Status)
	assert.Equal(t, "task-1", first.TaskID)

	tracker.UpdateStage("parsed", 30, "parsing")
	update := <-ch
	assert.Equal(t, 30, update.Progress)
	assert.Equal(t, "parsed", update.Stage)

	// 进度只增不减
	tracker.UpdateProgress(10, "")
	assert.Equal(t, 30, (<-ch).Progress)

	tracker.Complete("")
	done := <-ch
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)

	select {
	case <-tracker.Done:
	default:
		t.Fatal("Done channel should be closed")
	}

	// 结束后的调用不会 panic，也不会改变状态
	tracker.Complete("again")
	tracker.Fail("late")
	tracker.UpdateProgress(50, "late")
	assert.Equal(t, StatusCompleted, tracker.Snapshot().Status)

	tracker.Unsubscribe(ch)
	tracker.Unsubscribe(ch)
}

func TestProgressTracker_FailKeepsProgress(t *testing.T) {
	tracker := NewProgressService().CreateTracker("task-2", "generation")
	tracker.UpdateProgress(40, "half way")
	tracker.Fail("boom")

	snap := tracker.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 40, snap.Progress)
	assert.Contains(t, snap.Message, "boom")
	assert.True(t, tracker.IsFinished())
}

func TestProgressService_Listener(t *testing.T) {
	svc := NewProgressService()

	var mu sync.Mutex
	var seen []ProgressUpdate
	svc.SetListener(func(u ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u)
	})

	tracker := svc.CreateTracker("task-3", "pipeline")
	tracker.UpdateStage("masked", 70, "masking")
	tracker.Complete("done")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "masked", seen[0].Stage)
	assert.Equal(t, StatusCompleted, seen[1].Status)
	assert.Equal(t, "pipeline", seen[1].Kind)
}

func TestProgressService_CleanupCompletedTasks(t *testing.T) {
	svc := NewProgressService()
	svc.CreateTracker("running", "pipeline")
	svc.CreateTracker("finished", "pipeline").Complete("")

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, svc.CleanupCompletedTasks(time.Millisecond))

	_, ok := svc.GetTracker("finished")
	assert.False(t, ok)
	_, ok = svc.GetTracker("running")
	assert.True(t, ok)
}
