package health

import (
	"context"
	"sync"
	"testing"
)

func TestCheckAllEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestCheckAllSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("realtime", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("gateway", func(_ context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	want := []string{"database", "gateway", "realtime"}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d statuses, got %d", len(want), len(statuses))
	}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Fatalf("expected statuses[%d].Name %q, got %q", i, name, statuses[i].Name)
		}
	}
}

func TestCheckAllOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: false, Detail: "connection refused"}
	})
	r.Register("gateway", func(_ context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with an unhealthy checker should report unhealthy")
	}
	if statuses[0].Name != "database" || statuses[0].Detail != "connection refused" {
		t.Fatalf("unexpected first status: %+v", statuses[0])
	}
}

func TestRegisterReplacesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: false, Detail: "down"}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("replaced checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Healthy: true}
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
