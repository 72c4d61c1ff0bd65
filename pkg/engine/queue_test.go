package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlattice/qengine/pkg/ids"
)

func TestTaskQueuePushPopFIFO(t *testing.T) {
	q := NewTaskQueue()
	q.Push(Task{ID: 1, Kind: TaskData})
	q.Push(Task{ID: 2, Kind: TaskData})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, ids.TaskId(1), first.ID)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, ids.TaskId(2), second.ID)
}

func TestTaskQueuePopBlocksUntilPush(t *testing.T) {
	q := NewTaskQueue()
	done := make(chan Task, 1)
	go func() {
		task, ok := q.Pop()
		if ok {
			done <- task
		}
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(Task{ID: 42, Kind: TaskData})
	select {
	case task := <-done:
		assert.Equal(t, ids.TaskId(42), task.ID)
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up after Push")
	}
}

func TestTaskQueueTryPopNonBlocking(t *testing.T) {
	q := NewTaskQueue()
	_, ok := q.TryPop()
	assert.False(t, ok)

	q.Push(Task{ID: 1})
	task, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, ids.TaskId(1), task.ID)
}

func TestTaskQueueCloseWakesBlockedPop(t *testing.T) {
	q := NewTaskQueue()
	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = q.Pop()
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	assert.False(t, ok, "Pop on a closed, empty queue must report no task")
}

func TestTaskQueueLen(t *testing.T) {
	q := NewTaskQueue()
	assert.Equal(t, 0, q.Len())
	q.Push(Task{ID: 1})
	q.Push(Task{ID: 2})
	assert.Equal(t, 2, q.Len())
	q.Pop()
	assert.Equal(t, 1, q.Len())
}
