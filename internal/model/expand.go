package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDefinition marks input-table shape errors. They are fatal to the
// whole run and detected before any remote call.
var ErrInvalidDefinition = errors.New("invalid campaign definition")

// DefinitionError describes what is wrong with a single campaign set.
type DefinitionError struct {
	Set    string
	Detail string
}

func (e *DefinitionError) Error() string {
	if e.Set == "" {
		return fmt.Sprintf("invalid campaign definition: %s", e.Detail)
	}
	return fmt.Sprintf("invalid campaign definition %q: %s", e.Set, e.Detail)
}

func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// Expand turns campaign sets into the ordered task list the orchestrator
// executes. For every enabled set it emits one VariantTask per requested
// variant, preserving input order except for the one hard constraint:
// android's ios predecessor always appears first, and is inserted
// automatically when the input requested android without ios.
//
// Expansion is deterministic: identical input always yields an identical
// task list. Resume correctness depends on that property, since checkpoint
// entries are matched to tasks by (set, variant) key.
func Expand(sets []CampaignSet) ([]*VariantTask, error) {
	now := time.Now().UTC()
	var tasks []*VariantTask
	seenSets := make(map[string]bool, len(sets))

	for i := range sets {
		set := &sets[i]
		if set.Name == "" {
			return nil, &DefinitionError{Detail: fmt.Sprintf("set #%d has no name", i+1)}
		}
		if seenSets[set.Name] {
			return nil, &DefinitionError{Set: set.Name, Detail: "duplicate set name"}
		}
		seenSets[set.Name] = true

		if !set.Enabled {
			continue
		}
		if len(set.Variants) == 0 {
			return nil, &DefinitionError{Set: set.Name, Detail: "enabled set has no variants"}
		}

		variants, err := orderVariants(set)
		if err != nil {
			return nil, err
		}

		for _, v := range variants {
			task := &VariantTask{
				Key:       TaskKey{Set: set.Name, Variant: v},
				Status:    StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if pred, ok := v.Predecessor(); ok {
				task.DependsOn = &TaskKey{Set: set.Name, Variant: pred}
			}
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

// orderVariants validates a set's variant list and returns it with the
// implicit ios dependency satisfied and ordered ahead of android.
func orderVariants(set *CampaignSet) ([]Variant, error) {
	seen := make(map[Variant]bool, len(set.Variants))
	wantsAndroid := false
	for _, v := range set.Variants {
		switch v {
		case VariantDesktop, VariantIOS, VariantAndroid, VariantAllMobile:
		default:
			return nil, &DefinitionError{Set: set.Name, Detail: fmt.Sprintf("malformed variant %q", v)}
		}
		if seen[v] {
			return nil, &DefinitionError{Set: set.Name, Detail: fmt.Sprintf("duplicate variant %q", v)}
		}
		seen[v] = true
		if v == VariantAndroid {
			wantsAndroid = true
		}
	}

	ordered := make([]Variant, 0, len(set.Variants)+1)
	if wantsAndroid && !seen[VariantIOS] {
		// Android clones from the set's iOS campaign, so an ios task must
		// exist even when the table omitted it.
		ordered = append(ordered, VariantIOS)
	}
	for _, v := range set.Variants {
		if v == VariantAndroid {
			continue
		}
		ordered = append(ordered, v)
	}
	if wantsAndroid {
		ordered = append(ordered, VariantAndroid)
	}
	return ordered, nil
}

// FilterCreatives returns the creatives with the given ids removed. The
// input slice is not modified; retry passes operate on their own copy so a
// cleaning pass for one task never leaks into another.
func FilterCreatives(creatives []Creative, removeIDs []string) []Creative {
	if len(removeIDs) == 0 {
		return creatives
	}
	remove := make(map[string]bool, len(removeIDs))
	for _, id := range removeIDs {
		remove[id] = true
	}
	kept := make([]Creative, 0, len(creatives))
	for _, c := range creatives {
		if !remove[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept
}
