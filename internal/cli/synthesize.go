package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/contractworker/internal/formula"
)

// SynthesizeResult lists the formula triggers a type would get.
type SynthesizeResult struct {
	Type     string           `json:"type"`
	Triggers []map[string]any `json:"triggers"`
}

func (r SynthesizeResult) String() string {
	if len(r.Triggers) == 0 {
		return fmt.Sprintf("%s has no linked formula fields", r.Type)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d formula trigger(s)\n", r.Type, len(r.Triggers))
	for _, t := range r.Triggers {
		fmt.Fprintf(&b, "  %v\n", t["slug"])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSynthesizeCommand creates the synthesize command.
func NewSynthesizeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize <type>",
		Short: "Show the formula triggers derived from a type",
		Long: `Print the triggered actions that keep a type's linked $$formula fields
current. Nothing is installed: the same triggers are created whenever the
type is written.

Examples:
  contractworker synthesize invoice@1.0.0
  contractworker synthesize invoice@latest --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynthesize(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSynthesize(opts *RootOptions, typeRef string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
		typeCard, err := a.worker.TypeCard(ctx, typeRef)
		if err != nil {
			out.Failure(err)
			return WrapExitError(ExitFailure, "unknown type", err)
		}
		triggers, err := formula.Synthesize(typeCard, a.worker.Verbs())
		if err != nil {
			out.Failure(err)
			return WrapExitError(ExitFailure, "synthesis failed", err)
		}
		result := SynthesizeResult{Type: typeCard.Ref(), Triggers: make([]map[string]any, len(triggers))}
		for i, t := range triggers {
			result.Triggers[i] = map[string]any{"slug": t.Slug, "data": t.Data}
		}
		return out.Success(result)
	})
}
