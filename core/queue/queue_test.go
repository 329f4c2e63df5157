package queue

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	coreerrors "github.com/davidahmann/harness/core/errors"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

func TestQueueScenario(t *testing.T) {
	s := &schemasession.Session{TaskID: "A"}
	if err := Init(s, []string{"A", "B", "C"}, "backlog.md", time.Now(), zap.NewNop()); err != nil {
		t.Fatalf("init: %v", err)
	}
	expected := []bool{false, false, true}
	for index, want := range expected {
		result, err := Advance(s)
		if err != nil {
			t.Fatalf("advance %d: %v", index, err)
		}
		if result.QueueComplete != want {
			t.Fatalf("advance %d: queue_complete=%t want %t", index, result.QueueComplete, want)
		}
	}
	for range 3 {
		result, err := Advance(s)
		if err != nil || !result.QueueComplete || result.CompletedTask != "" {
			t.Fatalf("expected exhausted queue to stay complete, got %#v err=%v", result, err)
		}
	}
	if !slices.Equal(s.TaskQueue.CompletedTasks, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected completed tasks %v", s.TaskQueue.CompletedTasks)
	}
}

func TestInitLogsMismatchedFirstTask(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := &schemasession.Session{TaskID: "T9"}
	if err := Init(s, []string{" A ", "", "B"}, "", time.Now(), zap.New(core)); err != nil {
		t.Fatalf("init: %v", err)
	}
	if logs.FilterMessage("queue does not start with the session task").Len() != 1 {
		t.Fatalf("expected mismatch warning")
	}
	if !slices.Equal(s.TaskQueue.Tasks, []string{"A", "B"}) {
		t.Fatalf("unexpected tasks %v", s.TaskQueue.Tasks)
	}
	if err := Init(s, []string{" "}, "", time.Now(), nil); err == nil {
		t.Fatalf("expected empty queue rejection")
	}
}

func TestInitRejectsEmptyQueue(t *testing.T) {
	err := Init(&schemasession.Session{TaskID: "A"}, []string{" ", ""}, "cli", time.Now(), zap.NewNop())
	if coreerrors.CodeOf(err) != "queue_empty" {
		t.Fatalf("expected queue_empty, got %v", err)
	}
	hint := coreerrors.HintOf(err)
	if !strings.Contains(hint, "harness queue init") || !strings.Contains(hint, "--queue") {
		t.Fatalf("hint should name the real flags: %q", hint)
	}
}

func TestAdvanceWithoutQueue(t *testing.T) {
	if _, err := Advance(&schemasession.Session{}); !errors.Is(err, ErrNoQueue) {
		t.Fatalf("expected ErrNoQueue, got %v", err)
	}
}

func TestCheckContinuation(t *testing.T) {
	queued := func(index int) *schemasession.Session {
		return &schemasession.Session{TaskQueue: &schemasession.TaskQueue{Tasks: []string{"A", "B"}, CurrentIndex: index}}
	}
	tests := []struct {
		name     string
		session  *schemasession.Session
		settings Settings
		cont     bool
		reason   string
	}{
		{name: "no_queue", session: &schemasession.Session{}, settings: Settings{AutoContinue: true}, reason: ReasonNoQueue},
		{name: "complete", session: queued(2), settings: Settings{AutoContinue: true}, reason: ReasonQueueComplete},
		{name: "pause", session: queued(1), settings: Settings{AutoContinue: true, PauseBetweenTasks: true}, reason: ReasonPauseBetweenTasks},
		{name: "disabled", session: queued(1), settings: Settings{}, reason: ReasonAutoContinueDisabled},
		{name: "continue", session: queued(1), settings: Settings{AutoContinue: true}, cont: true, reason: ReasonAutoContinue},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := CheckContinuation(test.session, test.settings)
			if result.Continue != test.cont || result.Reason != test.reason {
				t.Fatalf("unexpected continuation %#v", result)
			}
			if test.cont && result.NextTask != "B" {
				t.Fatalf("expected next task B, got %q", result.NextTask)
			}
		})
	}
}

func TestAdvanceNeverDuplicatesCompletedTasks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Z][0-9]{1,3}`), 1, 8, rapid.ID[string]).Draw(t, "tasks")
		calls := rapid.IntRange(0, 20).Draw(t, "calls")
		s := &schemasession.Session{TaskID: tasks[0]}
		if err := Init(s, tasks, "", time.Now(), nil); err != nil {
			t.Fatalf("init: %v", err)
		}
		for range calls {
			if _, err := Advance(s); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}
		done := min(calls, len(tasks))
		if !slices.Equal(s.TaskQueue.CompletedTasks, tasks[:done]) {
			t.Fatalf("completed %v want %v", s.TaskQueue.CompletedTasks, tasks[:done])
		}
		if s.TaskQueue.CurrentIndex != done {
			t.Fatalf("cursor %d want %d", s.TaskQueue.CurrentIndex, done)
		}
		summary, ok := Summarize(s)
		if !ok || summary.Remaining != len(tasks)-done {
			t.Fatalf("unexpected summary %#v", summary)
		}
	})
}
