package sku

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

var ErrUnknownModel = errors.New("unknown model")

// UnknownModelError carries the closest catalog matches for a bad id.
type UnknownModelError struct {
	ID          string
	Suggestions []string
}

func (e *UnknownModelError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s: %q (run `llama-model list --show-all` to see all models)", ErrUnknownModel, e.ID)
	}
	return fmt.Sprintf("%s: %q, did you mean %s?", ErrUnknownModel, e.ID, strings.Join(e.Suggestions, ", "))
}

func (e *UnknownModelError) Is(target error) bool { return target == ErrUnknownModel }

const maxSuggestions = 3

// All returns every registered model, newest family first.
func All() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// Featured returns the models shown by a plain `list`.
func Featured() []Model {
	var out []Model
	for _, m := range catalog {
		if m.IsFeatured() {
			out = append(out, m)
		}
	}
	return out
}

// Resolve finds a model by descriptor or Hugging Face repo. Matching is
// exact and case sensitive; failures suggest near matches.
func Resolve(id string) (Model, error) {
	for _, m := range catalog {
		if m.Descriptor() == id || (m.HuggingFaceRepo != "" && m.HuggingFaceRepo == id) {
			return m, nil
		}
	}
	return Model{}, &UnknownModelError{ID: id, Suggestions: suggest(id)}
}

func suggest(id string) []string {
	targets := make([]string, 0, len(catalog))
	for _, m := range catalog {
		targets = append(targets, m.Descriptor())
	}

	ranks := fuzzy.RankFindFold(id, targets)
	sort.Sort(ranks)

	var out []string
	for _, r := range ranks {
		out = append(out, r.Target)
		if len(out) == maxSuggestions {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}

	// Ids with a stray suffix still contain a descriptor.
	needle := strings.ToLower(id)
	for _, t := range targets {
		if strings.Contains(strings.ToLower(t), needle) || strings.Contains(needle, strings.ToLower(t)) {
			out = append(out, t)
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}
