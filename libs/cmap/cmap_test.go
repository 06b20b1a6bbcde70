package cmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressEntries(t *testing.T) {
	cm := NewCMap()
	for i := 1; i <= 5; i++ {
		cm.Set(fmt.Sprintf("db%d:2424", i), i)
	}
	require.Equal(t, 5, cm.Size())
	assert.Equal(t, 3, cm.Get("db3:2424"))
	assert.True(t, cm.Has("db5:2424"))
	assert.False(t, cm.Has("db6:2424"))
	assert.Nil(t, cm.Get("db6:2424"))

	keys := cm.Keys()
	cm.Delete("db1:2424")
	assert.Len(t, keys, 5, "Keys returns a copy")
	assert.Len(t, cm.Keys(), 4)
	assert.Len(t, cm.Values(), 4)

	cm.Clear()
	assert.Zero(t, cm.Size())
}

// Concurrent first use of an address must agree on a single entry.
func TestGetOrSetRace(t *testing.T) {
	cm := NewCMap()

	const workers = 32
	got := make([]interface{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = cm.GetOrSet("db1:2424", &struct{ n int }{i})
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, got[0], got[i])
	}

	v, loaded := cm.GetOrSet("db1:2424", "ignored")
	assert.True(t, loaded)
	assert.Same(t, got[0], v)
}
