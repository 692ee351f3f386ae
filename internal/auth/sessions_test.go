package auth

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindingTableBind(t *testing.T) {
	table := NewBindingTable(testLogger())

	assert.Equal(t, BindingAccepted, table.Bind("session-1", "alice@example.com"))

	// Re-binding to the same identity is idempotent.
	assert.Equal(t, BindingAccepted, table.Bind("session-1", "alice@example.com"))

	// A different identity on a bound session is rejected and the
	// original binding survives.
	assert.Equal(t, BindingRejectedConflict, table.Bind("session-1", "bob@example.com"))

	identity, ok := table.Lookup("session-1")
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", identity)
}

func TestBindingTableSessionsAreIndependent(t *testing.T) {
	table := NewBindingTable(testLogger())

	assert.Equal(t, BindingAccepted, table.Bind("session-1", "alice@example.com"))
	assert.Equal(t, BindingAccepted, table.Bind("session-2", "bob@example.com"))
	assert.Equal(t, 2, table.Len())
}

func TestBindingTableUnbind(t *testing.T) {
	table := NewBindingTable(testLogger())

	table.Bind("session-1", "alice@example.com")
	table.Unbind("session-1")

	_, ok := table.Lookup("session-1")
	assert.False(t, ok)

	// A fresh session with the same ID may bind to a different user.
	assert.Equal(t, BindingAccepted, table.Bind("session-1", "bob@example.com"))

	// Unbinding an unknown session is a no-op.
	table.Unbind("session-99")
}

func TestBindingTableConcurrentBindSingleWinner(t *testing.T) {
	table := NewBindingTable(testLogger())

	const workers = 32
	results := make([]BindingResult, workers)
	identities := make([]string, workers)
	for i := range identities {
		identities[i] = fmt.Sprintf("user-%d@example.com", i)
	}

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i] = table.Bind("session-1", identities[i])
		}(i)
	}
	start.Done()
	done.Wait()

	// Exactly one bind wins; everyone else gets a deterministic conflict.
	accepted := 0
	var winner int
	for i, result := range results {
		if result == BindingAccepted {
			accepted++
			winner = i
		}
	}
	assert.Equal(t, 1, accepted)

	bound, ok := table.Lookup("session-1")
	assert.True(t, ok)
	assert.Equal(t, identities[winner], bound)
}

func TestBindingTableConcurrentSameIdentity(t *testing.T) {
	table := NewBindingTable(testLogger())

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	results := make([]BindingResult, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = table.Bind("session-1", "alice@example.com")
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.Equal(t, BindingAccepted, result)
	}
}

func TestBindingResultString(t *testing.T) {
	assert.Equal(t, "accepted", BindingAccepted.String())
	assert.Equal(t, "rejected-conflict", BindingRejectedConflict.String())
	assert.Equal(t, "unknown", BindingResult(99).String())
}
