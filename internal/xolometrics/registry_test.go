package xolometrics

import (
	"sync"
	"testing"
)

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same instance across calls")
	}
}

func TestDefault_ConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	registries := make([]*Registry, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			registries[index] = Default()
		}(i)
	}
	wg.Wait()

	first := registries[0]
	for i := 1; i < len(registries); i++ {
		if registries[i] != first {
			t.Errorf("registry at index %d is not the singleton instance", i)
		}
	}
}

func TestRegistry_LazyCategories(t *testing.T) {
	// Reuses the process singleton: promauto registers metrics against the
	// global Prometheus registry, so a second *Registry with the same
	// namespace would collide on metric names.
	r := Default()

	wf := r.Workflow()
	if wf == nil {
		t.Fatal("Workflow() returned nil")
	}
	if r.Workflow() != wf {
		t.Error("Workflow() should return the same instance on repeated calls")
	}

	h := r.HTTP()
	if h == nil {
		t.Fatal("HTTP() returned nil")
	}
	if r.HTTP() != h {
		t.Error("HTTP() should return the same instance on repeated calls")
	}

	rm := r.Retry()
	if rm == nil {
		t.Fatal("Retry() returned nil")
	}
	if r.Retry() != rm {
		t.Error("Retry() should return the same instance on repeated calls")
	}
}
