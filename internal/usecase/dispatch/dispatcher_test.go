package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompttick/prompttick/internal/app"
	"github.com/prompttick/prompttick/internal/app/config"
	"github.com/prompttick/prompttick/internal/infra/state"
)

// fakeAdapter lets tests script generation results per prompt.
type fakeAdapter struct {
	generate func(ctx context.Context, prompt string) (string, error)
	calls    int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.generate != nil {
		return f.generate(ctx, prompt)
	}
	return "GEN:" + prompt, nil
}

func testValues() config.Values {
	return config.Values{
		InputDir:        "/in",
		OutputDir:       "/out",
		LogDir:          "/logs",
		StatePath:       "/var/state.json",
		FileExtensions:  []string{".txt"},
		Ordering:        "name",
		BatchSize:       10,
		IntervalSeconds: 1,
		AdapterName:     "fake",
	}
}

// newTestDispatcher wires a dispatcher over an in-memory filesystem with a
// deterministic clock that advances one second per reading.
func newTestDispatcher(t *testing.T, v config.Values, backend *fakeAdapter) (*Dispatcher, afero.Fs, *state.Store) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(v.InputDir, 0o755))
	require.NoError(t, fsys.MkdirAll(v.OutputDir, 0o755))
	require.NoError(t, fsys.MkdirAll(v.LogDir, 0o755))

	store := state.NewStore(fsys, v.StatePath)
	require.NoError(t, store.Load())

	d := New(fsys, config.NewAppConfig(v), store, backend, app.NopLogger{})
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return d, fsys, store
}

func writePrompt(t *testing.T, fsys afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, filepath.Join("/in", name), []byte(content), 0o644))
}

func listOutputs(t *testing.T, fsys afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(fsys, "/out")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func TestRunOnce_ProcessesFilesAndPersistsState(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, store := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "first prompt")
	writePrompt(t, fsys, "b.txt", "second prompt")

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 2, Succeeded: 2}, summary)

	outputs := listOutputs(t, fsys)
	require.Len(t, outputs, 2)
	for _, name := range outputs {
		assert.Regexp(t, `^\d{8}-\d{6}_[ab]\.txt\.out\.txt$`, name)
	}

	data, err := afero.ReadFile(fsys, filepath.Join("/out", outputs[0]))
	require.NoError(t, err)
	assert.Equal(t, "GEN:first prompt", string(data))

	// State survives a restart.
	reloaded := state.NewStore(fsys, "/var/state.json")
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.Contains("/in/a.txt"))
	assert.True(t, reloaded.Contains("/in/b.txt"))
	assert.Equal(t, 2, store.Len())
}

func TestRunOnce_SecondPassIsIdempotent(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, _ := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	firstOutputs := listOutputs(t, fsys)

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, firstOutputs, listOutputs(t, fsys))
	assert.Equal(t, 1, backend.calls)
}

func TestRunOnce_EmptyFileSkippedWithoutOutput(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, store := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "blank.txt", "  \n\t\n")

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Skipped: 1}, summary)
	assert.Empty(t, listOutputs(t, fsys))
	assert.True(t, store.Contains("/in/blank.txt"))
	assert.Equal(t, 0, backend.calls)
}

func TestRunOnce_FailedFileStaysEligible(t *testing.T) {
	healthy := false
	backend := &fakeAdapter{
		generate: func(ctx context.Context, prompt string) (string, error) {
			if !healthy {
				return "", fmt.Errorf("backend unavailable")
			}
			return "ok: " + prompt, nil
		},
	}
	d, fsys, store := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Failed: 1}, summary)
	assert.False(t, store.Contains("/in/a.txt"))
	assert.Empty(t, listOutputs(t, fsys))

	// Next pass retries the same file once the backend recovers.
	healthy = true
	summary, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Succeeded: 1}, summary)
	assert.True(t, store.Contains("/in/a.txt"))
}

func TestRunOnce_OneFailureDoesNotAbortBatch(t *testing.T) {
	backend := &fakeAdapter{
		generate: func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "poison") {
				return "", fmt.Errorf("cannot generate")
			}
			return "ok", nil
		},
	}
	d, fsys, _ := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "1_good.txt", "fine")
	writePrompt(t, fsys, "2_bad.txt", "poison")
	writePrompt(t, fsys, "3_good.txt", "fine")

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 3, Succeeded: 2, Failed: 1}, summary)
}

func TestRunOnce_BatchSizeBoundsPassInNaturalOrder(t *testing.T) {
	v := testValues()
	v.BatchSize = 2
	backend := &fakeAdapter{}
	d, fsys, store := newTestDispatcher(t, v, backend)
	for _, name := range []string{"10_e.txt", "2_b.txt", "001_a.txt", "3_c.txt", "4_d.txt"} {
		writePrompt(t, fsys, name, "prompt")
	}

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 2, Succeeded: 2}, summary)

	// The two naturally-first files were taken; the rest wait.
	assert.True(t, store.Contains("/in/001_a.txt"))
	assert.True(t, store.Contains("/in/2_b.txt"))
	assert.False(t, store.Contains("/in/3_c.txt"))

	// Remaining files drain over subsequent passes.
	summary, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	summary, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
}

func TestRescan_MakesProcessedFilesEligibleAgain(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, store := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, store.Contains("/in/a.txt"))

	require.NoError(t, d.Rescan())
	assert.Equal(t, 0, store.Len())

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Succeeded: 1}, summary)
	// The clock advances between passes, so the rerun lands in a new file.
	assert.Len(t, listOutputs(t, fsys), 2)
}

func TestRunOnce_WritesJournalRecord(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, _ := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/logs/journal.ndjson")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "fake", rec["adapter"])
	assert.Equal(t, float64(1), rec["attempted"])
	assert.Equal(t, float64(1), rec["succeeded"])
	assert.NotEmpty(t, rec["pass_id"])
}

func TestRunOnce_CancelledContextStopsBetweenFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeAdapter{
		generate: func(ctx context.Context, prompt string) (string, error) {
			cancel() // cancelled while the first file is in flight
			return "ok", nil
		},
	}
	d, fsys, _ := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")
	writePrompt(t, fsys, "b.txt", "prompt")

	summary, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Succeeded: 1}, summary)
	assert.Equal(t, 1, backend.calls)
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	backend := &fakeAdapter{}
	d, fsys, _ := newTestDispatcher(t, testValues(), backend)
	writePrompt(t, fsys, "a.txt", "prompt")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.RunForever(ctx) }()

	// Give the first pass a moment, then request shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not stop after cancel")
	}
	assert.Len(t, listOutputs(t, fsys), 1)
}

func TestRunForever_RejectsInvalidSchedule(t *testing.T) {
	v := testValues()
	v.Schedule = "not a cron line"
	backend := &fakeAdapter{}
	d, _, _ := newTestDispatcher(t, v, backend)

	err := d.RunForever(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}
