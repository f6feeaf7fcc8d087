package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/focus-coach/companion/internal/model"
)

// Key names a persisted state entry.
type Key string

const (
	KeyFocusing                 Key = "focusing"
	KeySinceLastChange          Key = "since_last_change"
	KeyFocusTimeLeft            Key = "focus_time_left"
	KeyLastUpdateTimestamp      Key = "last_update_timestamp"
	KeyLastInteraction          Key = "last_interaction"
	KeyLastInteractionTimestamp Key = "last_interaction_timestamp"
	KeyLastNotificationSent     Key = "last_notification_sent"
	KeyConnected                Key = "connected"
)

// defaults holds the value reported for a key that has never been written.
var defaults = map[Key]any{
	KeyFocusing:                 false,
	KeySinceLastChange:          float64(0),
	KeyFocusTimeLeft:            float64(0),
	KeyLastUpdateTimestamp:      float64(0),
	KeyLastInteraction:          float64(0),
	KeyLastInteractionTimestamp: float64(0),
	KeyLastNotificationSent:     float64(0),
	KeyConnected:                false,
}

// Keys returns every known state key.
func Keys() []Key {
	return []Key{
		KeyFocusing,
		KeySinceLastChange,
		KeyFocusTimeLeft,
		KeyLastUpdateTimestamp,
		KeyLastInteraction,
		KeyLastInteractionTimestamp,
		KeyLastNotificationSent,
		KeyConnected,
	}
}

// Values is a set of state entries. Keys absent from the map were never
// persisted; the typed accessors fall back to the key's default.
type Values map[Key]any

// Has reports whether k was present in the store.
func (v Values) Has(k Key) bool {
	_, ok := v[k]
	return ok
}

// Bool returns the boolean stored under k, or its default.
func (v Values) Bool(k Key) bool {
	if b, ok := v[k].(bool); ok {
		return b
	}
	b, _ := defaults[k].(bool)
	return b
}

// Number returns the number stored under k, or its default.
func (v Values) Number(k Key) float64 {
	if n, ok := toFloat(v[k]); ok {
		return n
	}
	n, _ := toFloat(defaults[k])
	return n
}

// Millis returns the epoch-millisecond timestamp stored under k.
func (v Values) Millis(k Key) int64 {
	return int64(v.Number(k))
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// StateRepository persists agent state as JSON values in the kv table.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get reads the requested keys. Keys that were never written are omitted.
func (r *StateRepository) Get(ctx context.Context, keys ...Key) (Values, error) {
	values := make(Values, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = string(k)
	}

	query := `SELECT key, value FROM kv WHERE key IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to decode state %q: %w", key, err)
		}
		values[Key(key)] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state: %w", err)
	}

	return values, nil
}

// Set writes all values in a single transaction so readers never observe a
// partially applied update.
func (r *StateRepository) Set(ctx context.Context, values Values) error {
	if len(values) == 0 {
		return nil
	}

	for k := range values {
		if _, ok := defaults[k]; !ok {
			return fmt.Errorf("failed to write state: unknown key %q", k)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state write: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	now := time.Now()
	for k, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode state %q: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, query, string(k), string(encoded), now); err != nil {
			return fmt.Errorf("failed to write state %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state write: %w", err)
	}

	return nil
}

// Hydrate writes the default value for every key that is not yet present.
// Existing values are left untouched.
func (r *StateRepository) Hydrate(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin hydration: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT OR IGNORE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`

	now := time.Now()
	for _, k := range Keys() {
		encoded, err := json.Marshal(defaults[k])
		if err != nil {
			return fmt.Errorf("failed to encode default %q: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, query, string(k), string(encoded), now); err != nil {
			return fmt.Errorf("failed to hydrate %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hydration: %w", err)
	}

	return nil
}

// FocusState reads the persisted focus state.
func (r *StateRepository) FocusState(ctx context.Context) (model.FocusState, error) {
	values, err := r.Get(ctx, KeyFocusing, KeySinceLastChange, KeyFocusTimeLeft, KeyLastUpdateTimestamp)
	if err != nil {
		return model.FocusState{}, err
	}

	return model.FocusState{
		Focusing:            values.Bool(KeyFocusing),
		SinceLastChange:     values.Number(KeySinceLastChange),
		FocusTimeLeft:       values.Number(KeyFocusTimeLeft),
		LastUpdateTimestamp: values.Millis(KeyLastUpdateTimestamp),
	}, nil
}

// InteractionState reads the persisted interaction state.
func (r *StateRepository) InteractionState(ctx context.Context) (model.InteractionState, error) {
	values, err := r.Get(ctx, KeyLastInteraction, KeyLastInteractionTimestamp)
	if err != nil {
		return model.InteractionState{}, err
	}

	return model.InteractionState{
		LastInteraction:          values.Number(KeyLastInteraction),
		LastInteractionTimestamp: values.Millis(KeyLastInteractionTimestamp),
	}, nil
}

// Connected reads the persisted connection flag.
func (r *StateRepository) Connected(ctx context.Context) (bool, error) {
	values, err := r.Get(ctx, KeyConnected)
	if err != nil {
		return false, err
	}
	return values.Bool(KeyConnected), nil
}
