// Package actions executes approved proposed actions. Each action type has
// one executor; the dispatcher validates the action data contract before
// routing. This is the only code path that performs actions, whether
// approval was automatic or human.
package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basket/deskhand/internal/model"
)

// Executor performs one action type. taskCtx is the context mapping from
// the task document (sender address, chat id, subject).
type Executor interface {
	Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error

func (f ExecutorFunc) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	return f(ctx, action, taskCtx)
}

// Dispatcher routes actions to their executors.
type Dispatcher struct {
	executors map[model.ActionType]Executor
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		executors: make(map[model.ActionType]Executor),
		logger:    logger,
	}
}

// Register binds an executor to an action type, replacing any prior one.
func (d *Dispatcher) Register(at model.ActionType, ex Executor) {
	d.executors[at] = ex
}

// Execute validates the action data contract for the action's type and runs
// the registered executor.
func (d *Dispatcher) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	if err := validateActionData(action, taskCtx); err != nil {
		return fmt.Errorf("action %s: %w", action.ID, err)
	}
	ex, ok := d.executors[action.ActionType]
	if !ok {
		return fmt.Errorf("action %s: no executor for type %s", action.ID, action.ActionType)
	}
	d.logger.Info("executing action", "action_id", action.ID, "action_type", string(action.ActionType))
	if err := ex.Execute(ctx, action, taskCtx); err != nil {
		return fmt.Errorf("execute %s: %w", action.ActionType, err)
	}
	return nil
}

// validateActionData enforces the per-type required fields.
func validateActionData(action *model.ProposedAction, taskCtx map[string]any) error {
	data := action.ActionData
	switch action.ActionType {
	case model.ActionEmailReply, model.ActionChatReply:
		if err := requireStrings(data, "body"); err != nil {
			return err
		}
	case model.ActionEmailSend:
		if err := requireStrings(data, "to", "subject", "body"); err != nil {
			return err
		}
	case model.ActionFileOperation:
		op, _ := data["operation"].(string)
		switch op {
		case "create", "update":
			if err := requireStrings(data, "path", "content"); err != nil {
				return err
			}
		case "move":
			if err := requireStrings(data, "path", "dest"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("file operation %q not one of create, update, move", op)
		}
	case model.ActionCalendarEvent:
		if err := requireStrings(data, "title", "datetime"); err != nil {
			return err
		}
	case model.ActionPayment:
		if _, ok := data["amount"]; !ok {
			return fmt.Errorf("missing required field %q", "amount")
		}
		if err := requireStrings(data, "recipient"); err != nil {
			return err
		}
	case model.ActionSocialPost:
		if err := requireStrings(data, "platform", "content"); err != nil {
			return err
		}
	case model.ActionInvoice:
		if err := validateInvoiceData(data, taskCtx); err != nil {
			return err
		}
	case model.ActionCustom:
		// Unconstrained.
	default:
		return fmt.Errorf("unknown action type %s", action.ActionType)
	}
	return nil
}

func validateInvoiceData(data, taskCtx map[string]any) error {
	name, _ := data["client_name"].(string)
	email, _ := data["client_email"].(string)
	ctxFrom, _ := taskCtx["from"].(string)
	if name == "" && email == "" && ctxFrom == "" {
		return fmt.Errorf("invoice needs client_name, client_email, or a sender in the task context")
	}
	if _, ok := data["items"].([]any); ok {
		return nil
	}
	if _, ok := data["amount"]; ok {
		if desc, _ := data["description"].(string); desc != "" {
			return nil
		}
	}
	return fmt.Errorf("invoice needs items or amount with description")
}

func requireStrings(data map[string]any, keys ...string) error {
	for _, k := range keys {
		v, ok := data[k].(string)
		if !ok || v == "" {
			return fmt.Errorf("missing required field %q", k)
		}
	}
	return nil
}
