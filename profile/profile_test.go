package profile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pprofile "github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeRecordsSamples(t *testing.T) {
	p := Start(WithNoOutput())

	done := p.Scope("prove_root")
	time.Sleep(time.Millisecond)
	done()
	p.Scope("prove_root")()
	p.Scope("aggregate")()

	assert.Equal(t, 3, p.NbSamples())

	top := p.Top()
	assert.Contains(t, top, "prove_root")
	assert.Contains(t, top, "aggregate")

	p.Stop()
}

func TestConcurrentScopes(t *testing.T) {
	p := Start(WithNoOutput())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Scope("prove_root")()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 80, p.NbSamples())
	p.Stop()
}

func TestStopWritesPprofFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pprof")
	p := Start(WithPath(path))
	p.Scope("split")()
	p.Stop()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	parsed, err := pprofile.Parse(f)
	require.NoError(t, err)
	require.Len(t, parsed.SampleType, 1)
	assert.Equal(t, "wallclock", parsed.SampleType[0].Type)
	assert.Equal(t, "nanoseconds", parsed.SampleType[0].Unit)
	require.NotEmpty(t, parsed.Sample)

	found := false
	for _, fn := range parsed.Function {
		if strings.Contains(fn.Name, "split") {
			found = true
		}
	}
	assert.True(t, found, "stage name should survive the pprof round trip")
}
