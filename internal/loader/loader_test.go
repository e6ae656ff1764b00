package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/softphone-bridge/internal/page"
)

const (
	sdkURL    = "https://vendor.example/sdk.js"
	adapterJS = "https://vendor.example/adapter.js"
)

func TestLoadInjectsOnce(t *testing.T) {
	p := page.NewMockPage()
	l := New(p)

	require.NoError(t, l.Load(context.Background(), sdkURL))
	require.NoError(t, l.Load(context.Background(), sdkURL))

	assert.Equal(t, 1, p.AddScriptCalls(sdkURL))
	assert.Equal(t, []string{sdkURL}, p.Scripts())
}

func TestLoadSkipsExistingTag(t *testing.T) {
	p := page.NewMockPage()
	p.PreloadScript(sdkURL)

	require.NoError(t, New(p).Load(context.Background(), sdkURL))
	assert.Zero(t, p.AddScriptCalls(sdkURL))
}

func TestLoadFailure(t *testing.T) {
	p := page.NewMockPage()
	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	p.FailScript(adapterJS, boom)

	err := New(p).LoadAll(context.Background(), sdkURL, adapterJS, "https://vendor.example/never.js")
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, adapterJS, le.URL)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{sdkURL}, p.Scripts())
	assert.Zero(t, p.AddScriptCalls("https://vendor.example/never.js"))
}

func TestLoadRejectsEmptyURL(t *testing.T) {
	err := New(page.NewMockPage()).Load(context.Background(), "")
	var le *LoadError
	assert.True(t, errors.As(err, &le))
}

// slowHost blocks AddScript until released so concurrent loads overlap.
type slowHost struct {
	adds    atomic.Int32
	loaded  atomic.Bool
	release chan struct{}
}

func (h *slowHost) HasScript(context.Context, string) (bool, error) { return h.loaded.Load(), nil }

func (h *slowHost) AddScript(context.Context, string) error {
	h.adds.Add(1)
	<-h.release
	h.loaded.Store(true)
	return nil
}

func TestConcurrentLoadsShareInjection(t *testing.T) {
	h := &slowHost{release: make(chan struct{})}
	l := New(h)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Load(context.Background(), sdkURL)
		}()
	}

	require.Eventually(t, func() bool { return h.adds.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(h.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.adds.Load())
}
