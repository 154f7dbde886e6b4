package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/writer"
)

// Service exposes task orchestration. Several agents may race a claim on
// the same task; exactly one wins, decided by the conditional update
// underneath, never by queueing at this layer.
type Service struct {
	writes       writer.Submitter
	reader       store.Querier
	retryBudget  time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger
}

func NewService(writes writer.Submitter, reader store.Querier, retryBudget, retryBackoff time.Duration, logger *slog.Logger) *Service {
	return &Service{
		writes:       writes,
		reader:       reader,
		retryBudget:  retryBudget,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

func (s *Service) Create(ctx context.Context, p store.CreateTaskParams) (*models.Task, error) {
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		return store.CreateTask(wc.Tx, p)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Task), nil
}

func (s *Service) Get(id string) (*models.Task, error) {
	return store.GetTask(s.reader, id)
}

func (s *Service) List(status, agentID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	return store.ListTasks(s.reader, status, agentID, limit)
}

// Poll promotes dependency-satisfied tasks and returns what the agent
// could claim. Goes through the writer because promotion mutates rows.
func (s *Service) Poll(ctx context.Context, agentID string, capabilities []string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		return store.PollTasks(wc.Tx, agentID, capabilities, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*models.Task), nil
}

// Claim attempts to take a queued task for agentID. Returns (nil, nil)
// when another agent won the race; that is an answer, not an error.
func (s *Service) Claim(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		return store.ClaimTask(wc.Tx, taskID, agentID)
	})
	if err != nil {
		return nil, err
	}
	task, _ := result.(*models.Task)
	return task, nil
}

func (s *Service) Start(ctx context.Context, taskID, agentID string) (bool, error) {
	return s.guarded(ctx, func(wc *writer.WriteCtx) (bool, error) {
		return store.StartTask(wc.Tx, taskID, agentID)
	})
}

func (s *Service) Complete(ctx context.Context, taskID, agentID string, outputSummary *string) (bool, error) {
	return s.guarded(ctx, func(wc *writer.WriteCtx) (bool, error) {
		return store.CompleteTask(wc.Tx, taskID, agentID, outputSummary)
	})
}

func (s *Service) Fail(ctx context.Context, taskID, agentID string, errMsg *string) (bool, error) {
	return s.guarded(ctx, func(wc *writer.WriteCtx) (bool, error) {
		return store.FailTask(wc.Tx, taskID, agentID, errMsg)
	})
}

func (s *Service) Cancel(ctx context.Context, taskID string, reason *string) (bool, error) {
	return s.guarded(ctx, func(wc *writer.WriteCtx) (bool, error) {
		return store.CancelTask(wc.Tx, taskID, reason)
	})
}

func (s *Service) guarded(ctx context.Context, fn func(wc *writer.WriteCtx) (bool, error)) (bool, error) {
	result, err := s.writes.SubmitRetry(ctx, s.retryBudget, s.retryBackoff, func(wc *writer.WriteCtx) (any, error) {
		return fn(wc)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}
