package repository

import (
	"context"
	"testing"

	"github.com/focus-coach/companion/internal/db"
)

func setupTestRepo(t *testing.T) *StateRepository {
	t.Helper()

	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewStateRepository(database)
}

func TestStateRepository_GetMissingKeys(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	values, err := repo.Get(ctx, KeyFocusing, KeySinceLastChange)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if values.Has(KeyFocusing) || values.Has(KeySinceLastChange) {
		t.Errorf("expected no keys present, got %v", values)
	}
	if values.Bool(KeyFocusing) {
		t.Error("missing focusing should default to false")
	}
	if values.Number(KeySinceLastChange) != 0 {
		t.Error("missing since_last_change should default to 0")
	}
}

func TestStateRepository_SetAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.Set(ctx, Values{
		KeyFocusing:            true,
		KeySinceLastChange:     float64(100),
		KeyFocusTimeLeft:       12.5,
		KeyLastUpdateTimestamp: int64(1700000000123),
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	state, err := repo.FocusState(ctx)
	if err != nil {
		t.Fatalf("FocusState failed: %v", err)
	}

	if !state.Focusing {
		t.Error("expected focusing=true")
	}
	if state.SinceLastChange != 100 {
		t.Errorf("expected since_last_change=100, got %v", state.SinceLastChange)
	}
	if state.FocusTimeLeft != 12.5 {
		t.Errorf("expected focus_time_left=12.5, got %v", state.FocusTimeLeft)
	}
	if state.LastUpdateTimestamp != 1700000000123 {
		t.Errorf("expected timestamp to survive storage, got %d", state.LastUpdateTimestamp)
	}

	t.Run("overwrite keeps other keys", func(t *testing.T) {
		if err := repo.Set(ctx, Values{KeySinceLastChange: float64(130)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		state, err := repo.FocusState(ctx)
		if err != nil {
			t.Fatalf("FocusState failed: %v", err)
		}
		if state.SinceLastChange != 130 || !state.Focusing {
			t.Errorf("unexpected state after overwrite: %+v", state)
		}
	})
}

func TestStateRepository_SetRejectsUnknownKey(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.Set(ctx, Values{
		KeyFocusing:   true,
		Key("bogus"): 1,
	})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}

	values, err := repo.Get(ctx, KeyFocusing)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if values.Has(KeyFocusing) {
		t.Error("rejected write must not be partially applied")
	}
}

func TestStateRepository_Hydrate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, Values{KeyConnected: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := repo.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}

	values, err := repo.Get(ctx, Keys()...)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	for _, k := range Keys() {
		if !values.Has(k) {
			t.Errorf("expected %s to be hydrated", k)
		}
	}
	if !values.Bool(KeyConnected) {
		t.Error("Hydrate must not overwrite existing values")
	}
	if values.Millis(KeyLastUpdateTimestamp) != 0 {
		t.Error("hydrated timestamp should be 0")
	}
}
