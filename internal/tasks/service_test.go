package tasks

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scoped := &writer.Scoped{DBPath: dbPath, BusyTimeout: time.Second, LockTimeout: 2 * time.Second}
	return NewService(scoped, db, time.Second, 10*time.Millisecond, logger)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task, err := s.Create(ctx, store.CreateTaskParams{Name: "deploy"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != models.TaskQueued {
		t.Fatalf("status = %s", task.Status)
	}

	claimed, err := s.Claim(ctx, task.ID, "agent-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.Status != models.TaskClaimed || claimed.AttemptNumber != 1 {
		t.Fatalf("claimed = %+v", claimed)
	}

	ok, err := s.Start(ctx, task.ID, "agent-a")
	if err != nil || !ok {
		t.Fatalf("start = %v, %v", ok, err)
	}

	summary := "shipped"
	ok, err = s.Complete(ctx, task.ID, "agent-a", &summary)
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v", ok, err)
	}

	got, err := s.Get(task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.TaskDone || got.OutputSummary == nil || *got.OutputSummary != "shipped" {
		t.Fatalf("done task = %+v", got)
	}
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task, err := s.Create(ctx, store.CreateTaskParams{Name: "contested"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	winners := make(chan string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			claimed, err := s.Claim(ctx, task.ID, agent)
			if err != nil {
				t.Errorf("claim %s: %v", agent, err)
				return
			}
			if claimed != nil {
				winners <- agent
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(winners)

	var won []string
	for w := range winners {
		won = append(won, w)
	}
	if len(won) != 1 {
		t.Fatalf("winners = %v, want exactly one", won)
	}

	got, err := s.Get(task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssignedAgentID == nil || *got.AssignedAgentID != won[0] {
		t.Errorf("assigned = %v, winner = %s", got.AssignedAgentID, won[0])
	}
}

func TestGuardsRejectWrongAgent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task, err := s.Create(ctx, store.CreateTaskParams{Name: "guarded"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Claim(ctx, task.ID, "agent-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if ok, err := s.Start(ctx, task.ID, "agent-b"); err != nil || ok {
		t.Errorf("start by non-claimer = %v, %v", ok, err)
	}
	if ok, err := s.Complete(ctx, task.ID, "agent-b", nil); err != nil || ok {
		t.Errorf("complete by non-claimer = %v, %v", ok, err)
	}
	if ok, err := s.Start(ctx, task.ID, "agent-a"); err != nil || !ok {
		t.Errorf("start by claimer = %v, %v", ok, err)
	}
}

func TestFailRequeuesUntilAttemptsExhausted(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task, err := s.Create(ctx, store.CreateTaskParams{Name: "flaky", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg := "boom"
	if _, err := s.Claim(ctx, task.ID, "agent-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok, err := s.Fail(ctx, task.ID, "agent-a", &msg); err != nil || !ok {
		t.Fatalf("first fail = %v, %v", ok, err)
	}
	got, _ := s.Get(task.ID)
	if got.Status != models.TaskQueued || got.AssignedAgentID != nil {
		t.Fatalf("after first fail = %+v, want requeued", got)
	}

	// Second attempt exhausts the budget.
	if _, err := s.Claim(ctx, task.ID, "agent-b"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if ok, err := s.Fail(ctx, task.ID, "agent-b", &msg); err != nil || !ok {
		t.Fatalf("second fail = %v, %v", ok, err)
	}
	got, _ = s.Get(task.ID)
	if got.Status != models.TaskFailed {
		t.Fatalf("after second fail = %s, want failed", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Errorf("error message = %v", got.ErrorMessage)
	}
}

func TestPollPromotesDependents(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	parent, err := s.Create(ctx, store.CreateTaskParams{Name: "build"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := s.Create(ctx, store.CreateTaskParams{Name: "release", DependsOn: []string{parent.ID}})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Status != models.TaskPending {
		t.Fatalf("child status = %s", child.Status)
	}

	// The child stays invisible while the parent is open.
	tasks, err := s.Poll(ctx, "agent-a", nil, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	for _, tk := range tasks {
		if tk.ID == child.ID {
			t.Fatal("pending child offered before dependency done")
		}
	}

	if _, err := s.Claim(ctx, parent.ID, "agent-a"); err != nil {
		t.Fatalf("claim parent: %v", err)
	}
	if ok, err := s.Complete(ctx, parent.ID, "agent-a", nil); err != nil || !ok {
		t.Fatalf("complete parent = %v, %v", ok, err)
	}

	tasks, err = s.Poll(ctx, "agent-a", nil, 10)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	found := false
	for _, tk := range tasks {
		if tk.ID == child.ID {
			found = true
			if tk.Status != models.TaskQueued {
				t.Errorf("child status = %s", tk.Status)
			}
		}
	}
	if !found {
		t.Fatal("child not promoted after dependency completed")
	}
}

func TestPollFiltersByCapability(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	gpu := "gpu"
	if _, err := s.Create(ctx, store.CreateTaskParams{Name: "train", RequiresCapability: &gpu}); err != nil {
		t.Fatalf("create: %v", err)
	}
	plain, err := s.Create(ctx, store.CreateTaskParams{Name: "docs"})
	if err != nil {
		t.Fatalf("create plain: %v", err)
	}

	tasks, err := s.Poll(ctx, "agent-a", nil, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != plain.ID {
		t.Fatalf("uncapable poll = %v", tasks)
	}

	tasks, err = s.Poll(ctx, "agent-a", []string{"gpu"}, 10)
	if err != nil {
		t.Fatalf("capable poll: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("capable poll = %d tasks", len(tasks))
	}
}

func TestCancelAndList(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task, err := s.Create(ctx, store.CreateTaskParams{Name: "doomed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reason := "obsolete"
	if ok, err := s.Cancel(ctx, task.ID, &reason); err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	// Terminal tasks cannot be cancelled again.
	if ok, err := s.Cancel(ctx, task.ID, &reason); err != nil || ok {
		t.Fatalf("re-cancel = %v, %v", ok, err)
	}

	cancelled, err := s.List(models.TaskCancelled, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != task.ID {
		t.Fatalf("list cancelled = %v", cancelled)
	}
	queued, err := s.List(models.TaskQueued, "", 0)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("queued = %v", queued)
	}
}
