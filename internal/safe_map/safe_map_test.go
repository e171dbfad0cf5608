package safe_map

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMap_StoreLoadDelete(t *testing.T) {
	m := NewSafeMap[string, int]()

	_, ok := m.Load("a")
	assert.False(t, ok)

	m.Store("a", 1)
	m.Store("b", 2)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, m.Len())

	v, ok = m.LoadAndDelete("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = m.LoadAndDelete("b")
	assert.False(t, ok)

	m.Delete("a")
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_ClearAndRange(t *testing.T) {
	m := NewSafeMap[int, string]()
	for i := 0; i < 5; i++ {
		m.Store(i, fmt.Sprint(i))
	}

	seen := 0
	m.Range(func(key int, value string) bool {
		assert.Equal(t, fmt.Sprint(key), value)
		seen++
		return true
	})
	assert.Equal(t, 5, seen)

	seen = 0
	m.Range(func(key int, value string) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)

	// Range must not hold the lock while calling back
	m.Range(func(key int, value string) bool {
		m.Delete(key)
		return true
	})
	assert.Equal(t, 0, m.Len())

	m.Store(1, "1")
	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_ConcurrentAccess(t *testing.T) {
	m := NewSafeMap[int, int]()
	var wg sync.WaitGroup

	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Store(id*100+j, j)
				m.Load(id*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, m.Len())
}
