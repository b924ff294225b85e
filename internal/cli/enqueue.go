package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Args    string
	Wait    bool
	Timeout time.Duration
}

// EnqueueResult is the output of the enqueue command.
type EnqueueResult struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Card      string `json:"card"`
	Executed  bool   `json:"executed"`
	Error     bool   `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func (r EnqueueResult) String() string {
	if !r.Executed {
		return fmt.Sprintf("Enqueued %s on %s as request %s", r.Action, r.Card, r.RequestID)
	}
	status := "succeeded"
	if r.Error {
		status = "failed"
	}
	return fmt.Sprintf("Request %s %s: %v", r.RequestID, status, r.Data)
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <action> <card>",
		Short: "Enqueue an action request",
		Long: `Enqueue an action request on a card as the admin actor.

The card is a slug@version reference or a contract id. With --wait the
due jobs are drained in-process and the request's result is printed.

Examples:
  contractworker enqueue action-update-card@1.0.0 invoice-1@1.0.0 \
    --args '{"patch":[{"op":"add","path":"/data/paid","value":true}]}'
  contractworker enqueue action-delete-card@1.0.0 invoice-1@1.0.0 --wait`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "action arguments as a JSON object")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "drain due jobs and print the result")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long --wait waits for the result")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, action, cardRef string, cmd *cobra.Command) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}
	out := opts.formatter(cmd)

	return withApp(cmd.Context(), opts.RootOptions, func(ctx context.Context, a *app) error {
		card, err := lookupCard(ctx, a.store, cardRef)
		if err != nil {
			out.Failure(err)
			return WrapExitError(ExitFailure, "card not found", err)
		}

		request, err := a.worker.Enqueue(ctx, a.admin, contract.ActionRequest{
			Action:    action,
			Card:      card.ID,
			Type:      card.Type,
			Arguments: args,
		})
		if err != nil {
			out.Failure(err)
			return WrapExitError(ExitFailure, "enqueue failed", err)
		}

		result := EnqueueResult{RequestID: request.ID, Action: action, Card: card.Ref()}
		if !opts.Wait {
			return out.Success(result)
		}

		if _, err := a.consumer.Drain(ctx, a.worker.Handle, 0); err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		res, err := a.producer.WaitResults(waitCtx, request)
		if err != nil {
			return WrapExitError(ExitFailure, "no result", err)
		}
		result.Executed = true
		result.Error = res.Error
		result.Data = res.Data
		if err := out.Success(result); err != nil {
			return err
		}
		if res.Error {
			return WrapExitError(ExitFailure, "execution failed", res.Err())
		}
		return nil
	})
}

// lookupCard resolves a slug@version reference or a contract id.
func lookupCard(ctx context.Context, st *store.Store, ref string) (contract.Contract, error) {
	var (
		c   contract.Contract
		err error
	)
	if strings.Contains(ref, "@") {
		c, err = st.GetBySlug(ctx, ref)
	} else {
		c, err = st.GetByID(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return contract.Contract{}, failure.Wrap(failure.WorkerNoElement, err, "no card %s", ref)
	}
	return c, err
}
