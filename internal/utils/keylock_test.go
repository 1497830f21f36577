package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_EntryRemovedAfterRelease(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("integ-1")
	assert.Equal(t, 1, km.Len())

	unlock()
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutex_ContendedKeySerializesAndDrains(t *testing.T) {
	km := NewKeyedMutex()

	const workers = 8
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("integ-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutex_IndependentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("integ-a")
	unlockB := km.Lock("integ-b")
	assert.Equal(t, 2, km.Len())

	unlockA()
	unlockB()
	assert.Equal(t, 0, km.Len())
}
