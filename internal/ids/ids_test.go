package ids

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewReturnsValidULID(t *testing.T) {
	id := New()
	if _, err := ulid.ParseStrict(id); err != nil {
		t.Fatalf("New produced invalid ULID %q: %v", id, err)
	}
}

func TestNewIsUniqueUnderConcurrency(t *testing.T) {
	const perWorker = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := New()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
