package kmutex_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

func TestSerializesSameKey(t *testing.T) {
	km := kmutex.New[uint64]()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(1)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	km := kmutex.New[[2]uint64]()

	unlockA := km.Lock([2]uint64{1, 2})
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock([2]uint64{3, 4})
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
