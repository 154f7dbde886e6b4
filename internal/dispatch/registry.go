package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/tasks"
)

// Kind classifies a tool by its data-plane side. Read tools run against
// the reader handle and never queue; write tools go through the single
// writer and may block behind it.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// HandlerFunc executes one tool call with decoded-but-untyped arguments.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Kind        Kind
	Description string
	Handler     HandlerFunc
}

// StatusFunc reports server status for the status tool.
type StatusFunc func(ctx context.Context) (any, error)

// Registry is the static tool table. It is built once at startup and
// never mutated afterwards, so Dispatch needs no locking.
type Registry struct {
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry wires every tool to the memory and task services.
func NewRegistry(mem *memory.Service, tsk *tasks.Service, status StatusFunc, logger *slog.Logger) *Registry {
	r := &Registry{tools: make(map[string]Tool), logger: logger}

	r.register(Tool{
		Name: "memory_put", Kind: KindWrite,
		Description: "Store a memory in a slot, superseding the caller's previous value there.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return nil, err
			}
			content, err := requireStr(args, "content")
			if err != nil {
				return nil, err
			}
			return mem.Put(ctx, memory.PutParams{
				Key:         strArg(args, "key"),
				Slot:        strArg(args, "slot"),
				ScopeType:   strArg(args, "scope_type"),
				ScopeID:     strPtrArg(args, "scope_id"),
				AgentID:     agentID,
				Content:     content,
				Tags:        strSliceArg(args, "tags"),
				Sensitivity: strArg(args, "sensitivity"),
				TTLDays:     intPtrArg(args, "ttl_days"),
			})
		},
	})

	r.register(Tool{
		Name: "memory_get", Kind: KindRead,
		Description: "Fetch the live memories in a slot. Multiple entries mean agents disagree.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			slot := strArg(args, "slot")
			if slot == "" {
				slot = strArg(args, "key")
			}
			if slot == "" {
				return nil, fmt.Errorf("%w: slot is required", store.ErrIntegrityViolation)
			}
			return mem.Get(slot, strArg(args, "scope_type"), strPtrArg(args, "scope_id"))
		},
	})

	r.register(Tool{
		Name: "memory_search", Kind: KindRead,
		Description: "Hybrid keyword and semantic search over live memories.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, err := requireStr(args, "query")
			if err != nil {
				return nil, err
			}
			return mem.Search(ctx, query, intArg(args, "limit", 10))
		},
	})

	r.register(Tool{
		Name: "memory_history", Kind: KindRead,
		Description: "Audit trail for one memory, oldest first.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireStr(args, "memory_id")
			if err != nil {
				return nil, err
			}
			if _, err := mem.GetByID(id); err != nil {
				return nil, err
			}
			return mem.History(id, intArg(args, "limit", 50))
		},
	})

	r.register(Tool{
		Name: "memory_supersede", Kind: KindWrite,
		Description: "Replace a live memory with new content. Fails if it is no longer live.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			oldID, err := requireStr(args, "old_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return nil, err
			}
			content, err := requireStr(args, "content")
			if err != nil {
				return nil, err
			}
			return mem.Supersede(ctx, oldID, content, agentID, strSliceArg(args, "tags"))
		},
	})

	r.register(Tool{
		Name: "memory_retract", Kind: KindWrite,
		Description: "Withdraw a live memory without replacement.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireStr(args, "memory_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return nil, err
			}
			if err := mem.Retract(ctx, id, agentID, strPtrArg(args, "reason")); err != nil {
				return nil, err
			}
			return map[string]any{"retracted": true}, nil
		},
	})

	r.register(Tool{
		Name: "memory_prune", Kind: KindWrite,
		Description: "Hard-delete memories whose TTL has lapsed.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			n, err := mem.Prune(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"pruned": n}, nil
		},
	})

	r.register(Tool{
		Name: "conflicts_list", Kind: KindRead,
		Description: "List slot conflicts between agents.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return mem.Conflicts(boolArg(args, "open_only", true), intArg(args, "limit", 50))
		},
	})

	r.register(Tool{
		Name: "conflict_resolve", Kind: KindWrite,
		Description: "Close an open conflict with an explicit resolution.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireStr(args, "conflict_id")
			if err != nil {
				return nil, err
			}
			resolution, err := requireStr(args, "resolution")
			if err != nil {
				return nil, err
			}
			resolvedBy, err := requireStr(args, "resolved_by")
			if err != nil {
				return nil, err
			}
			if err := mem.ResolveConflict(ctx, id, resolution, resolvedBy); err != nil {
				return nil, err
			}
			return map[string]any{"resolved": true}, nil
		},
	})

	r.register(Tool{
		Name: "duplicates_list", Kind: KindRead,
		Description: "List detected near-duplicate pairs, most similar first.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return mem.Duplicates(boolArg(args, "open_only", true), intArg(args, "limit", 50))
		},
	})

	r.register(Tool{
		Name: "duplicate_resolve", Kind: KindWrite,
		Description: "Close a duplicate pair with an explicit resolution.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireStr(args, "duplicate_id")
			if err != nil {
				return nil, err
			}
			resolution, err := requireStr(args, "resolution")
			if err != nil {
				return nil, err
			}
			resolvedBy, err := requireStr(args, "resolved_by")
			if err != nil {
				return nil, err
			}
			if err := mem.ResolveDuplicate(ctx, id, resolution, resolvedBy); err != nil {
				return nil, err
			}
			return map[string]any{"resolved": true}, nil
		},
	})

	r.register(Tool{
		Name: "task_create", Kind: KindWrite,
		Description: "Create a task, optionally gated on other tasks completing.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name, err := requireStr(args, "name")
			if err != nil {
				return nil, err
			}
			return tsk.Create(ctx, store.CreateTaskParams{
				Name:               name,
				Description:        strPtrArg(args, "description"),
				Payload:            strPtrArg(args, "payload"),
				Priority:           intArg(args, "priority", 0),
				RequiresCapability: strPtrArg(args, "requires_capability"),
				MaxAttempts:        intArg(args, "max_attempts", 0),
				DependsOn:          strSliceArg(args, "depends_on"),
			})
		},
	})

	r.register(Tool{
		Name: "task_poll", Kind: KindWrite,
		Description: "List claimable tasks for an agent, promoting any whose dependencies finished.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return nil, err
			}
			return tsk.Poll(ctx, agentID, strSliceArg(args, "capabilities"), intArg(args, "limit", 10))
		},
	})

	r.register(Tool{
		Name: "task_claim", Kind: KindWrite,
		Description: "Try to claim a queued task. Exactly one concurrent claimer wins.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			taskID, err := requireStr(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return nil, err
			}
			task, err := tsk.Claim(ctx, taskID, agentID)
			if err != nil {
				return nil, err
			}
			if task == nil {
				return map[string]any{"claimed": false}, nil
			}
			return map[string]any{"claimed": true, "task": task}, nil
		},
	})

	r.register(Tool{
		Name: "task_start", Kind: KindWrite,
		Description: "Move a claimed task to running.",
		Handler: taskGuardHandler("task", func(ctx context.Context, args map[string]any) (bool, error) {
			taskID, err := requireStr(args, "task_id")
			if err != nil {
				return false, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return false, err
			}
			return tsk.Start(ctx, taskID, agentID)
		}),
	})

	r.register(Tool{
		Name: "task_complete", Kind: KindWrite,
		Description: "Finish a task the agent holds.",
		Handler: taskGuardHandler("task", func(ctx context.Context, args map[string]any) (bool, error) {
			taskID, err := requireStr(args, "task_id")
			if err != nil {
				return false, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return false, err
			}
			return tsk.Complete(ctx, taskID, agentID, strPtrArg(args, "output_summary"))
		}),
	})

	r.register(Tool{
		Name: "task_fail", Kind: KindWrite,
		Description: "Record a task failure; remaining attempts requeue it.",
		Handler: taskGuardHandler("task", func(ctx context.Context, args map[string]any) (bool, error) {
			taskID, err := requireStr(args, "task_id")
			if err != nil {
				return false, err
			}
			agentID, err := requireStr(args, "agent_id")
			if err != nil {
				return false, err
			}
			return tsk.Fail(ctx, taskID, agentID, strPtrArg(args, "error"))
		}),
	})

	r.register(Tool{
		Name: "task_cancel", Kind: KindWrite,
		Description: "Administratively terminate a non-terminal task.",
		Handler: taskGuardHandler("task", func(ctx context.Context, args map[string]any) (bool, error) {
			taskID, err := requireStr(args, "task_id")
			if err != nil {
				return false, err
			}
			return tsk.Cancel(ctx, taskID, strPtrArg(args, "reason"))
		}),
	})

	r.register(Tool{
		Name: "task_get", Kind: KindRead,
		Description: "Fetch one task by id.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireStr(args, "task_id")
			if err != nil {
				return nil, err
			}
			return tsk.Get(id)
		},
	})

	r.register(Tool{
		Name: "task_list", Kind: KindRead,
		Description: "List tasks, optionally filtered by status or agent.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return tsk.List(strArg(args, "status"), strArg(args, "agent_id"), intArg(args, "limit", 50))
		},
	})

	r.register(Tool{
		Name: "status", Kind: KindRead,
		Description: "Server status: queue depth, worker lease, database path.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return status(ctx)
		},
	})

	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name] = t
}

// Dispatch routes one call by name.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	result, err := t.Handler(ctx, args)
	if err != nil {
		r.logger.Debug("tool call failed", "tool", name, "code", ErrorCode(err), "error", err)
	}
	return result, err
}

// Tools lists the registry in stable name order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsWrite reports whether a named tool mutates state.
func (r *Registry) IsWrite(name string) bool {
	t, ok := r.tools[name]
	return ok && t.Kind == KindWrite
}

// taskGuardHandler converts the guarded-update false return into a
// precondition error so callers see the taxonomy, not a silent no-op.
func taskGuardHandler(noun string, fn func(ctx context.Context, args map[string]any) (bool, error)) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		ok, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s not in the expected state", store.ErrPreconditionMissed, noun)
		}
		return map[string]any{"ok": true}, nil
	}
}
