package intercept

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLogger(t *testing.T) {
	assert := assert.New(t)

	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	Logger().Debug("hello")
	assert.Equal(1, logs.FilterMessage("hello").Len())

	in := New()
	assert.Same(Logger(), in.log)

	SetLogger(nil)
	assert.NotNil(Logger())
	assert.NotPanics(func() { Logger().Info("discarded") })
	assert.Equal(0, logs.FilterMessage("discarded").Len())
}

func TestSetLogger_Concurrent(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(zap.NewNop())
				return
			}
			Logger().Debug("concurrent")
		}()
	}
	wg.Wait()
	assert.NotNil(t, Logger())
}
