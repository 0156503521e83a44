package store

import (
	"encoding/json"
	"fmt"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
)

// Decode interprets a snapshot value (the JSON-shaped tree the store
// delivers) as the entity out points to. A value that cannot be interpreted
// yields domain.ErrDecoding; callers log and treat it as absent rather than
// failing the whole snapshot.
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	return nil
}

// Children interprets a snapshot value as a keyed collection, returning the
// key→child map. A nil value is an empty collection; any other shape is a
// decoding failure.
func Children(value any) (map[string]any, error) {
	if value == nil {
		return map[string]any{}, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected keyed collection, got %T", domain.ErrDecoding, value)
	}
	return m, nil
}

// Encode normalizes an entity into the JSON-shaped tree the store transports.
// Keeping local writes and delivered snapshots in the same shape means decode
// paths are identical whether a value came from this client or the network.
func Encode(entity any) (any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	return out, nil
}
