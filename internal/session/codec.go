package session

import (
	"sort"

	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
)

// Exercises and sets travel as keyed collections, never as arrays: each item
// sits under its own client-generated key so concurrent writers compose into
// a conflict-free union. These helpers translate between the keyed tree shape
// and the in-memory slices.

func encodeSet(s domain.Set) map[string]any {
	out := map[string]any{
		"id":            s.ID,
		"reps":          s.Reps,
		"weight":        s.Weight,
		"addedByUserId": s.AddedByUserID,
	}
	if s.ReferenceReps != 0 {
		out["referenceReps"] = s.ReferenceReps
	}
	if s.ReferenceWeight != 0 {
		out["referenceWeight"] = s.ReferenceWeight
	}
	return out
}

func encodeExercise(e domain.Exercise) map[string]any {
	out := map[string]any{
		"id":            e.ID,
		"name":          e.Name,
		"addedByUserId": e.AddedByUserID,
		"createdAt":     e.CreatedAt,
	}
	if len(e.Sets) > 0 {
		sets := make(map[string]any, len(e.Sets))
		for _, s := range e.Sets {
			sets[s.ID] = encodeSet(s)
		}
		out["sets"] = sets
	}
	return out
}

func encodeExercises(exercises []domain.Exercise) map[string]any {
	out := make(map[string]any, len(exercises))
	for _, e := range exercises {
		out[e.ID] = encodeExercise(e)
	}
	return out
}

// decodeExercises rebuilds the exercise list from a subtree snapshot. The
// whole collection is decoded on every snapshot rather than patched
// incrementally; an undecodable child is logged and treated as absent.
func decodeExercises(value any, logger *zap.Logger) []domain.Exercise {
	children, err := store.Children(value)
	if err != nil {
		logger.Warn("exercises subtree has unexpected shape", zap.Error(err))
		return nil
	}
	out := make([]domain.Exercise, 0, len(children))
	for key, child := range children {
		var e domain.Exercise
		if err := store.Decode(child, &e); err != nil {
			logger.Warn("skipping undecodable exercise", zap.String("key", key), zap.Error(err))
			continue
		}
		if e.ID == "" {
			e.ID = key
		}
		e.Sets = decodeSets(childField(child, "sets"), logger)
		out = append(out, e)
	}
	domain.SortExercises(out)
	return out
}

func decodeSets(value any, logger *zap.Logger) []domain.Set {
	children, err := store.Children(value)
	if err != nil {
		logger.Warn("sets subtree has unexpected shape", zap.Error(err))
		return nil
	}
	out := make([]domain.Set, 0, len(children))
	for key, child := range children {
		var s domain.Set
		if err := store.Decode(child, &s); err != nil {
			logger.Warn("skipping undecodable set", zap.String("key", key), zap.Error(err))
			continue
		}
		if s.ID == "" {
			s.ID = key
		}
		out = append(out, s)
	}
	sortSets(out)
	return out
}

func sortSets(sets []domain.Set) {
	// Set ids embed the adder's id, so ordering by id groups each writer's
	// contributions and is identical on every client.
	sort.SliceStable(sets, func(i, j int) bool { return sets[i].ID < sets[j].ID })
}

func childField(value any, field string) any {
	if m, ok := value.(map[string]any); ok {
		return m[field]
	}
	return nil
}
