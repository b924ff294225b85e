package formula

import (
	"fmt"

	"github.com/roach88/contractworker/internal/contract"
)

// noisyTypes are excluded from wildcard formula triggers: they change on
// every write and never carry formula inputs.
var noisyTypes = []any{contract.TypeCreate, contract.TypeUpdate, contract.TypeLink}

// TriggerSlug is the deterministic slug of the formula trigger for a type
// and the verb its formulas read.
func TriggerSlug(typeSlug, verb string) string {
	return contract.DeterministicSlug("triggered-action-formula-update-" + typeSlug + "-" + verb)
}

// Synthesize returns the formula triggers for a type contract, one per
// verb its formulas read through links, ordered by verb.
//
// The returned contracts carry no id or timestamps; callers upsert them by
// slug, so synthesizing twice yields the same slugs and no duplicates.
func Synthesize(typeContract contract.Contract, registry *Registry) ([]contract.Contract, error) {
	typeSchema, _ := typeContract.Data["schema"].(map[string]any)
	if typeSchema == nil {
		return nil, nil
	}
	verbs, err := LinkVerbs(typeSchema)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", typeContract.Ref(), err)
	}

	typeRef := typeContract.Ref()
	out := make([]contract.Contract, 0, len(verbs))
	for _, verb := range verbs {
		reverse := registry.Inverse(verb)
		trigger := contract.TriggeredAction{
			Filter: formulaFilter(typeRef, reverse, registry.TargetTypes(verb, typeRef)),
			Action: contract.ActionUpdateCard,
			Target: map[string]any{
				"$map": map[string]any{
					"$eval": fmt.Sprintf("where(source.links[%q], \"type\", %q)", reverse, typeRef),
				},
				"each(card)": map[string]any{"$eval": "card.id"},
			},
			Arguments: map[string]any{
				"patch": []any{},
			},
			Schedule: contract.ScheduleEnqueue,
		}
		data, err := contract.Encode(trigger)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", typeRef, err)
		}
		out = append(out, contract.Contract{
			Slug:    TriggerSlug(typeContract.Slug, verb),
			Version: "1.0.0",
			Type:    contract.TypeTriggeredAction,
			Name:    fmt.Sprintf("Formula update of %s via %q", typeRef, verb),
			Active:  true,
			Tags:    []string{"formula"},
			Data:    data,
		})
	}
	return out, nil
}

// formulaFilter matches active contracts that are linked back to at least
// one contract of typeRef. When the linked-to types are known the filter
// restricts type to them; otherwise it only excludes noisy event types.
func formulaFilter(typeRef, reverse string, linkedTypes []string) map[string]any {
	typeConstraint := map[string]any{"not": map[string]any{"enum": noisyTypes}}
	if linkedTypes != nil {
		enum := make([]any, len(linkedTypes))
		for i, t := range linkedTypes {
			enum[i] = t
		}
		typeConstraint = map[string]any{"enum": enum}
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"active", "type"},
		"properties": map[string]any{
			"active": map[string]any{"const": true},
			"type":   typeConstraint,
		},
		"$$links": map[string]any{
			reverse: map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type": map[string]any{"const": typeRef},
				},
			},
		},
	}
}
