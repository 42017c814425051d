package report

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/marmos91/nxfs/internal/logger"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Report(msg string) {
	m.Called(msg)
}

func TestChannelDisableEnable(t *testing.T) {
	r := &mockReporter{}
	r.On("Report", "before").Once()
	r.On("Report", "after").Once()

	ch := NewChannel(r)
	ch.Report("before")

	ch.Disable()
	ch.Report("hidden")
	ch.Enable()

	ch.Report("after")
	r.AssertExpectations(t)
	assert.Same(t, r, ch.Reporter())
}

func TestChannelEnableWithoutDisable(t *testing.T) {
	r := &mockReporter{}
	ch := NewChannel(r)
	ch.Enable()
	assert.Same(t, r, ch.Reporter())
}

func TestSuppressRestoresOnEveryPath(t *testing.T) {
	r := &mockReporter{}
	r.On("Report", "visible").Twice()
	ch := NewChannel(r)

	probe := func(fail bool) error {
		defer ch.Suppress()()
		ch.Report("probe failed")
		if fail {
			return assert.AnError
		}
		return nil
	}

	assert.Error(t, probe(true))
	ch.Report("visible")
	assert.NoError(t, probe(false))
	ch.Report("visible")

	r.AssertExpectations(t)
	r.AssertNotCalled(t, "Report", "probe failed")
}

func TestSuppressNests(t *testing.T) {
	r := &mockReporter{}
	r.On("Report", "out").Once()
	ch := NewChannel(r)

	outer := ch.Suppress()
	inner := ch.Suppress()
	inner()
	ch.Report("still hidden")
	outer()
	outer()
	ch.Report("out")

	r.AssertExpectations(t)
}

func TestSinkContextOverride(t *testing.T) {
	global := &mockReporter{}
	global.On("Report", "global 1").Once()
	local := &mockReporter{}
	local.On("Report", "local 2").Once()

	s := NewSink(global)
	ctx := WithChannel(context.Background(), NewChannel(local))

	s.Reportf(context.Background(), "global %d", 1)
	s.Reportf(ctx, "local %d", 2)

	s.Report(s.Suppress(ctx), "dropped")
	s.Report(s.Suppress(context.Background()), "dropped")

	global.AssertExpectations(t)
	local.AssertExpectations(t)
	assert.Same(t, s.Global(), s.Channel(context.Background()))
}

func TestSinkSuppressIsScopedToContext(t *testing.T) {
	var mu sync.Mutex
	var got []string
	s := NewSink(Func(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}))

	const workers, rounds = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s.Report(s.Suppress(context.Background()), "quiet")
				s.Report(context.Background(), "loud")
			}
		}()
	}
	wg.Wait()

	s.Report(context.Background(), "after")
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, workers*rounds+1)
	assert.NotContains(t, got, "quiet")
	assert.Equal(t, "after", got[len(got)-1])
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	Log.Report("ERROR: item not linked")
	assert.Contains(t, buf.String(), "ERROR: item not linked")
}
