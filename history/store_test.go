package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/deploy"
	"github.com/scrawlsbenches/rollout/target"
)

// Both store implementations must satisfy the same contract, so every test
// runs against both.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func sampleDeployment(createdAt time.Time) *deploy.Deployment {
	return &deploy.Deployment{
		ID:          uuid.New(),
		Environment: "production",
		Artifact:    "app:v2",
		Baseline:    "app:v1",
		Targets:     []target.ID{"web-1", "web-2"},
		Strategy:    deploy.StrategyCanary,
		Config:      deploy.DefaultStrategyConfig(deploy.StrategyCanary),
		Status:      deploy.StatusPending,
		Initial: map[target.ID]target.Assignment{
			"web-1": {Artifact: "app:v1", Weight: 100},
			"web-2": {Artifact: "app:v1", Weight: 100},
		},
		CreatedAt: createdAt,
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := sampleDeployment(time.Now())
			if err := s.Save(ctx, d); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, err := s.Get(ctx, d.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Artifact != "app:v2" || got.Baseline != "app:v1" {
				t.Errorf("artifacts not round-tripped: %s / %s", got.Artifact, got.Baseline)
			}
			if len(got.Targets) != 2 || got.Targets[0] != "web-1" {
				t.Errorf("targets not round-tripped: %v", got.Targets)
			}
			if a := got.Initial["web-2"]; a.Artifact != "app:v1" || a.Weight != 100 {
				t.Errorf("initial assignments not round-tripped: %+v", a)
			}
		})
	}
}

func TestStoreDuplicateSave(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := sampleDeployment(time.Now())
			if err := s.Save(ctx, d); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := s.Save(ctx, d); !errors.Is(err, deploy.ErrValidation) {
				t.Fatalf("expected ErrValidation on duplicate save, got %v", err)
			}
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := sampleDeployment(time.Now())
			if err := s.Save(ctx, d); err != nil {
				t.Fatalf("save: %v", err)
			}

			d.Status = deploy.StatusRolledBack
			d.Rollbacks = append(d.Rollbacks, deploy.RollbackRecord{
				ID:       uuid.New(),
				Trigger:  deploy.TriggerAutomatic,
				Reason:   "error-rate",
				Complete: true,
				Outcomes: []deploy.RevertOutcome{{Target: "web-1", OK: true}},
			})
			if err := s.Update(ctx, d); err != nil {
				t.Fatalf("update: %v", err)
			}

			got, err := s.Get(ctx, d.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != deploy.StatusRolledBack {
				t.Errorf("status = %s", got.Status)
			}
			if len(got.Rollbacks) != 1 || got.Rollbacks[0].Reason != "error-rate" {
				t.Errorf("rollback history not persisted: %+v", got.Rollbacks)
			}
		})
	}
}

func TestStoreUpdateUnknown(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(context.Background(), sampleDeployment(time.Now()))
			if !errors.Is(err, deploy.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), uuid.New())
			if !errors.Is(err, deploy.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreListOrderAndFilter(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			oldest := sampleDeployment(base)
			mid := sampleDeployment(base.Add(10 * time.Minute))
			mid.Status = deploy.StatusCompleted
			newest := sampleDeployment(base.Add(20 * time.Minute))
			for _, d := range []*deploy.Deployment{oldest, mid, newest} {
				if err := s.Save(ctx, d); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 deployments, got %d", len(all))
			}
			if all[0].ID != newest.ID || all[2].ID != oldest.ID {
				t.Error("list not ordered newest first")
			}

			pending, err := s.ListByStatus(ctx, deploy.StatusPending)
			if err != nil {
				t.Fatalf("list by status: %v", err)
			}
			if len(pending) != 2 {
				t.Fatalf("expected 2 pending deployments, got %d", len(pending))
			}
			for _, d := range pending {
				if d.Status != deploy.StatusPending {
					t.Errorf("unexpected status %s", d.Status)
				}
			}
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := sampleDeployment(time.Now())
	if err := s.Save(ctx, d); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	d.Status = deploy.StatusFailed
	d.Targets[0] = "tampered"

	got, err := s.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != deploy.StatusPending {
		t.Errorf("stored status mutated: %s", got.Status)
	}
	if got.Targets[0] != "web-1" {
		t.Errorf("stored targets mutated: %v", got.Targets)
	}
}
