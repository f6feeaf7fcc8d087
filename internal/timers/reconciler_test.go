package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/focus-coach/companion/internal/clock"
	"github.com/focus-coach/companion/internal/db"
	"github.com/focus-coach/companion/internal/repository"
)

var testStart = time.UnixMilli(1700000000000)

func setupTestReconciler(t *testing.T) (*Reconciler, *repository.StateRepository, *clock.Fake, *int) {
	t.Helper()

	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := repository.NewStateRepository(database)
	clk := clock.NewFake(testStart)
	reminders := new(int)

	r := NewReconciler(DefaultConfig(), repo, clk, func(ctx context.Context) { *reminders++ })
	t.Cleanup(r.Stop)

	return r, repo, clk, reminders
}

func seed(t *testing.T, repo *repository.StateRepository, values repository.Values) {
	t.Helper()
	if err := repo.Set(context.Background(), values); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
}

func read(t *testing.T, repo *repository.StateRepository, keys ...repository.Key) repository.Values {
	t.Helper()
	values, err := repo.Get(context.Background(), keys...)
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	return values
}

func TestTimeUpdateAdvancesSinceLastChange(t *testing.T) {
	r, repo, clk, _ := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyFocusing:            true,
		repository.KeySinceLastChange:     100,
		repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
	})

	r.Start(context.Background())
	clk.Advance(30 * time.Second)

	values := read(t, repo, repository.KeySinceLastChange, repository.KeyLastUpdateTimestamp)
	if got := values.Number(repository.KeySinceLastChange); got != 130 {
		t.Errorf("expected since_last_change 130, got %v", got)
	}
	if got := values.Millis(repository.KeyLastUpdateTimestamp); got != testStart.UnixMilli()+30000 {
		t.Errorf("expected timestamp T+30000, got %d", got)
	}
}

func TestTimeUpdateSkipsUninitializedState(t *testing.T) {
	tests := []struct {
		name string
		seed repository.Values
	}{
		{"nothing persisted", repository.Values{}},
		{"zero timestamp", repository.Values{
			repository.KeyFocusing:            false,
			repository.KeySinceLastChange:     50,
			repository.KeyLastUpdateTimestamp: 0,
		}},
		{"missing focusing", repository.Values{
			repository.KeySinceLastChange:     50,
			repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, repo, clk, _ := setupTestReconciler(t)
			seed(t, repo, tt.seed)

			r.Start(context.Background())
			clk.Advance(30 * time.Second)

			values := read(t, repo, repository.KeySinceLastChange, repository.KeyLastUpdateTimestamp)
			want := tt.seed.Number(repository.KeySinceLastChange)
			if got := values.Number(repository.KeySinceLastChange); got != want {
				t.Errorf("expected since_last_change to stay %v, got %v", want, got)
			}
			if got := values.Millis(repository.KeyLastUpdateTimestamp); got != tt.seed.Millis(repository.KeyLastUpdateTimestamp) {
				t.Errorf("expected timestamp untouched, got %d", got)
			}
		})
	}
}

func TestRestartTimeUpdateResetsInterval(t *testing.T) {
	r, repo, clk, _ := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyFocusing:            true,
		repository.KeySinceLastChange:     0,
		repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
	})

	r.Start(context.Background())
	clk.Advance(20 * time.Second)
	r.RestartTimeUpdate()
	clk.Advance(20 * time.Second)

	if got := read(t, repo, repository.KeySinceLastChange).Number(repository.KeySinceLastChange); got != 0 {
		t.Fatalf("restart should postpone the tick, got since_last_change %v", got)
	}

	clk.Advance(10 * time.Second)
	if got := read(t, repo, repository.KeySinceLastChange).Number(repository.KeySinceLastChange); got != 50 {
		t.Errorf("expected since_last_change 50 after restarted tick, got %v", got)
	}
}

func TestInteractionUpdateAdvancesLastInteraction(t *testing.T) {
	r, repo, clk, _ := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyLastInteraction:          10,
		repository.KeyLastInteractionTimestamp: testStart.UnixMilli(),
	})

	r.Start(context.Background())
	clk.Advance(60 * time.Second)

	values := read(t, repo, repository.KeyLastInteraction, repository.KeyLastInteractionTimestamp)
	if got := values.Number(repository.KeyLastInteraction); got != 70 {
		t.Errorf("expected last_interaction 70, got %v", got)
	}
	if got := values.Millis(repository.KeyLastInteractionTimestamp); got != testStart.UnixMilli()+60000 {
		t.Errorf("expected timestamp T+60000, got %d", got)
	}
}

func TestShouldRemindBoundaries(t *testing.T) {
	p := DefaultPolicy()
	now := testStart
	longAgo := now.Add(-3 * time.Hour).UnixMilli()

	tests := []struct {
		name            string
		focusing        bool
		since           float64
		lastInteraction float64
		lastSent        int64
		want            bool
	}{
		{"all conditions hold", false, 7201, 299, longAgo, true},
		{"focusing", true, 7201, 299, longAgo, false},
		{"not unfocused long enough", false, 7200, 299, longAgo, false},
		{"user away", false, 7201, 300, longAgo, false},
		{"reminder sent recently", false, 7201, 299, now.Add(-2 * time.Hour).UnixMilli(), false},
		{"never reminded", false, 9000, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRemind(tt.focusing, tt.since, tt.lastInteraction, tt.lastSent, now); got != tt.want {
				t.Errorf("ShouldRemind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReminderFiresOncePerCooldown(t *testing.T) {
	r, repo, clk, reminders := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyFocusing:            false,
		repository.KeySinceLastChange:     7180,
		repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
		repository.KeyLastInteraction:     0,
	})

	r.Start(context.Background())
	clk.Advance(30 * time.Second)

	if *reminders != 1 {
		t.Fatalf("expected 1 reminder, got %d", *reminders)
	}
	sent := read(t, repo, repository.KeyLastNotificationSent).Millis(repository.KeyLastNotificationSent)
	if sent != testStart.UnixMilli()+30000 {
		t.Errorf("expected last_notification_sent at T+30000, got %d", sent)
	}

	clk.Advance(30 * time.Second)
	if *reminders != 1 {
		t.Errorf("reminder must respect the cooldown, got %d", *reminders)
	}
}

func TestStopCancelsTasks(t *testing.T) {
	r, repo, clk, _ := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyFocusing:            true,
		repository.KeySinceLastChange:     1,
		repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
	})

	r.Start(context.Background())
	r.Stop()
	clk.Advance(5 * time.Minute)

	if got := read(t, repo, repository.KeySinceLastChange).Number(repository.KeySinceLastChange); got != 1 {
		t.Errorf("stopped reconciler must not write, got %v", got)
	}
	if pending := clk.Pending(); len(pending) != 0 {
		t.Errorf("expected no timers after Stop, got %v", pending)
	}
}

// blockingStore parks the first Get until released.
type blockingStore struct {
	mu      sync.Mutex
	gets    int
	values  repository.Values
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Get(ctx context.Context, keys ...repository.Key) (repository.Values, error) {
	s.mu.Lock()
	s.gets++
	first := s.gets == 1
	s.mu.Unlock()

	if first {
		close(s.entered)
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := repository.Values{}
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *blockingStore) Set(ctx context.Context, values repository.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func TestTaskInvocationsNeverOverlap(t *testing.T) {
	store := &blockingStore{
		values:  repository.Values{},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clk := clock.NewFake(testStart)
	r := NewReconciler(Config{
		TimeUpdateInterval:        30 * time.Second,
		InteractionUpdateInterval: time.Hour,
	}, store, clk, nil)
	defer r.Stop()

	r.Start(context.Background())

	done := make(chan struct{})
	go func() {
		clk.Advance(30 * time.Second)
		close(done)
	}()
	<-store.entered

	// the next tick lands while the first invocation is parked
	clk.Advance(30 * time.Second)

	store.mu.Lock()
	gets := store.gets
	store.mu.Unlock()
	if gets != 1 {
		t.Errorf("expected overlapping tick to be skipped, got %d reads", gets)
	}

	close(store.release)
	<-done
}

// memStore is a plain map-backed Store.
type memStore struct {
	values repository.Values
}

func (s *memStore) Get(ctx context.Context, keys ...repository.Key) (repository.Values, error) {
	out := repository.Values{}
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *memStore) Set(ctx context.Context, values repository.Values) error {
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func TestTimeUpdateProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("one tick adds the whole seconds elapsed since the stamp", prop.ForAll(
		func(since int64, ageMs int64) bool {
			clk := clock.NewFake(testStart)
			stamp := testStart.UnixMilli() - ageMs
			store := &memStore{values: repository.Values{
				repository.KeyFocusing:            true,
				repository.KeySinceLastChange:     float64(since),
				repository.KeyLastUpdateTimestamp: stamp,
			}}

			r := NewReconciler(DefaultConfig(), store, clk, nil)
			r.Start(context.Background())
			clk.Advance(DefaultTimeUpdateInterval)
			r.Stop()

			now := testStart.Add(DefaultTimeUpdateInterval).UnixMilli()
			want := float64(since + (now-stamp)/1000)
			return store.values.Number(repository.KeySinceLastChange) == want &&
				store.values.Millis(repository.KeyLastUpdateTimestamp) == now
		},
		gen.Int64Range(0, 100000),
		gen.Int64Range(0, 10000000),
	))

	properties.TestingRun(t)
}

// flakyStore fails the next n reads, the next n writes, or every write that
// touches failKey, then behaves like memStore.
type flakyStore struct {
	memStore
	failGets int
	failSets int
	failKey  repository.Key
	gets     int
}

func (s *flakyStore) Get(ctx context.Context, keys ...repository.Key) (repository.Values, error) {
	s.gets++
	if s.failGets > 0 {
		s.failGets--
		return nil, errors.New("disk I/O error")
	}
	return s.memStore.Get(ctx, keys...)
}

func (s *flakyStore) Set(ctx context.Context, values repository.Values) error {
	if s.failSets > 0 {
		s.failSets--
		return errors.New("disk I/O error")
	}
	if _, ok := values[s.failKey]; ok && s.failKey != "" {
		return errors.New("disk I/O error")
	}
	return s.memStore.Set(ctx, values)
}

func TestStoreFailureAbandonsCycleAndNextCycleRetries(t *testing.T) {
	tests := []struct {
		name     string
		failGets int
		failSets int
	}{
		{"read fails", 1, 0},
		{"write fails", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(testStart)
			store := &flakyStore{
				memStore: memStore{values: repository.Values{
					repository.KeyFocusing:            true,
					repository.KeySinceLastChange:     100,
					repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
				}},
				failGets: tt.failGets,
				failSets: tt.failSets,
			}
			r := NewReconciler(Config{
				TimeUpdateInterval:        30 * time.Second,
				InteractionUpdateInterval: time.Hour,
			}, store, clk, nil)
			defer r.Stop()

			r.Start(context.Background())
			clk.Advance(30 * time.Second)

			if got := store.values.Number(repository.KeySinceLastChange); got != 100 {
				t.Fatalf("failed cycle must leave since_last_change at 100, got %v", got)
			}

			clk.Advance(30 * time.Second)

			if got := store.values.Number(repository.KeySinceLastChange); got != 160 {
				t.Errorf("expected next cycle to advance since_last_change to 160, got %v", got)
			}
			if got := store.values.Millis(repository.KeyLastUpdateTimestamp); got != testStart.UnixMilli()+60000 {
				t.Errorf("expected timestamp T+60000, got %d", got)
			}
		})
	}
}

func TestInteractionStoreFailureRetries(t *testing.T) {
	clk := clock.NewFake(testStart)
	store := &flakyStore{
		memStore: memStore{values: repository.Values{
			repository.KeyLastInteraction:          10,
			repository.KeyLastInteractionTimestamp: testStart.UnixMilli(),
		}},
		failGets: 1,
	}
	r := NewReconciler(Config{
		TimeUpdateInterval:        time.Hour,
		InteractionUpdateInterval: 60 * time.Second,
	}, store, clk, nil)
	defer r.Stop()

	r.Start(context.Background())
	clk.Advance(60 * time.Second)
	if got := store.values.Number(repository.KeyLastInteraction); got != 10 {
		t.Fatalf("failed cycle must leave last_interaction at 10, got %v", got)
	}

	store.failSets = 1
	clk.Advance(60 * time.Second)
	if got := store.values.Number(repository.KeyLastInteraction); got != 10 {
		t.Fatalf("failed write must leave last_interaction at 10, got %v", got)
	}

	clk.Advance(60 * time.Second)
	if got := store.values.Number(repository.KeyLastInteraction); got != 190 {
		t.Errorf("expected last_interaction 190 after recovery, got %v", got)
	}
}

func TestReminderRecordFailureKeepsTasksRunning(t *testing.T) {
	clk := clock.NewFake(testStart)
	store := &flakyStore{
		memStore: memStore{values: repository.Values{
			repository.KeyFocusing:            false,
			repository.KeySinceLastChange:     7180,
			repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
			repository.KeyLastInteraction:     0,
		}},
		failKey: repository.KeyLastNotificationSent,
	}
	reminders := 0
	r := NewReconciler(Config{
		TimeUpdateInterval:        30 * time.Second,
		InteractionUpdateInterval: time.Hour,
	}, store, clk, func(ctx context.Context) { reminders++ })
	defer r.Stop()

	r.Start(context.Background())
	clk.Advance(30 * time.Second)

	if reminders != 1 {
		t.Fatalf("expected 1 reminder, got %d", reminders)
	}
	if store.values.Has(repository.KeyLastNotificationSent) {
		t.Error("expected last_notification_sent to stay unset")
	}

	clk.Advance(30 * time.Second)

	if got := store.values.Number(repository.KeySinceLastChange); got != 7240 {
		t.Errorf("expected time task to keep advancing, got since_last_change %v", got)
	}
	if store.gets != 2 {
		t.Errorf("expected a second cycle after the failed write, got %d reads", store.gets)
	}
}

func TestRestartAfterStopIsIgnored(t *testing.T) {
	r, repo, clk, _ := setupTestReconciler(t)

	seed(t, repo, repository.Values{
		repository.KeyFocusing:            true,
		repository.KeySinceLastChange:     1,
		repository.KeyLastUpdateTimestamp: testStart.UnixMilli(),
	})

	r.Start(context.Background())
	r.Stop()
	r.RestartTimeUpdate()
	r.RestartInteractionUpdate()
	clk.Advance(5 * time.Minute)

	if got := read(t, repo, repository.KeySinceLastChange).Number(repository.KeySinceLastChange); got != 1 {
		t.Errorf("restart after Stop must not revive the task, got %v", got)
	}
	if pending := clk.Pending(); len(pending) != 0 {
		t.Errorf("expected no timers after Stop, got %v", pending)
	}
}
