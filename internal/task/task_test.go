package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/ngnshed/internal/shed"
	"github.com/seantiz/ngnshed/internal/task"
)

func newTask(id string) *task.Task {
	req := &task.Request{ID: "r-" + id, EngineType: "echo", Body: []byte("payload")}
	return task.New(id, req, false)
}

func TestRequestLinksTask(t *testing.T) {
	tk := newTask("t1")
	if tk.Request().Task() != tk {
		t.Error("request does not point back to its task")
	}
}

func TestFreezeThaw(t *testing.T) {
	tk := newTask("t1")
	if tk.Frozen() {
		t.Fatal("new task is frozen")
	}
	tk.Freeze(tk.Request())
	if !tk.Frozen() {
		t.Fatal("task not frozen after Freeze")
	}
	tk.Thaw()
	if tk.Frozen() {
		t.Error("task still frozen after Thaw")
	}
}

func TestCompleteOnlyOnce(t *testing.T) {
	tk := newTask("t1")

	if !tk.Complete(task.Result{Output: []byte("first")}) {
		t.Fatal("first Complete returned false")
	}
	if tk.Complete(task.Result{Output: []byte("second")}) {
		t.Error("second Complete returned true")
	}

	res, err := tk.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(res.Output) != "first" {
		t.Errorf("output = %q, want %q", res.Output, "first")
	}
}

func TestCloseOutputCompletesWithError(t *testing.T) {
	tk := newTask("t1")
	if err := tk.CloseOutput(); err != nil {
		t.Fatalf("CloseOutput: %v", err)
	}

	select {
	case <-tk.Done():
	default:
		t.Fatal("task not done after CloseOutput")
	}
	res, _ := tk.Wait(context.Background())
	if !errors.Is(res.Err, task.ErrOutputClosed) {
		t.Errorf("result error = %v, want ErrOutputClosed", res.Err)
	}

	// A completed task keeps its result.
	done := newTask("t2")
	done.Complete(task.Result{Output: []byte("ok")})
	_ = done.CloseOutput()
	res, _ = done.Wait(context.Background())
	if res.Err != nil || string(res.Output) != "ok" {
		t.Errorf("result = (%q, %v), want (ok, nil)", res.Output, res.Err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tk := newTask("t1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := tk.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestPushRecordsNoteAndBindsEngine(t *testing.T) {
	s := shed.New("c1", 0, nil)
	tk := newTask("t1")

	err := s.Push("echo", tk, tk.Request(), func(*shed.Engine, int, shed.Request) error { return nil })
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := tk.Request().Note(shed.NoteTaskID); got != "t1" {
		t.Errorf("note = %q, want %q", got, "t1")
	}
	if tk.Engine() == nil || tk.Engine().Type() != "echo" {
		t.Errorf("task engine = %v, want echo engine", tk.Engine())
	}

	queued := newTask("t2")
	if err := s.Push("echo", queued, queued.Request(), nil); err != nil {
		t.Fatalf("Push queued: %v", err)
	}
	if !queued.Frozen() {
		t.Error("queued task not frozen by the shed")
	}
}
