// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/api/schemas"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom/domtest"
	"github.com/xkilldash9x/pagegrounder/internal/config"
)

const fixture = `<html><body>
<form id="f"><input id="q" aria-label="Query"></form>
<button id="go">Go</button>
</body></html>`

const testConfig = `
logger:
  level: error
observer:
  max_timeout: 100ms
  quiet_period: 10ms
input:
  settle_delay: 0s
`

type fakeTarget struct {
	page *domtest.Page

	mu      sync.Mutex
	visited []string
	shots   int
	closed  bool
}

func (f *fakeTarget) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	return nil
}

func (f *fakeTarget) Screenshot(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	return "", nil
}

func (f *fakeTarget) Page() dom.Page { return f.page }

// useFakeTarget swaps the browser launcher for an in-memory page.
func useFakeTarget(t *testing.T) *fakeTarget {
	t.Helper()
	page := domtest.MustParse(fixture)
	page.SetRect(page.MustNode("#q"), dom.Rect{X: 10, Y: 10, Width: 200, Height: 30})
	page.SetRect(page.MustNode("#go"), dom.Rect{X: 10, Y: 50, Width: 80, Height: 30})
	ft := &fakeTarget{page: page}

	prev := launchTarget
	launchTarget = func(context.Context, *zap.Logger, *config.Config) (target, func(), error) {
		return ft, func() {
			ft.mu.Lock()
			ft.closed = true
			ft.mu.Unlock()
		}, nil
	}
	t.Cleanup(func() { launchTarget = prev })
	return ft
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pagegrounder version dev\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "pagegrounder version dev\n", out)
}

func TestMissingConfigFile(t *testing.T) {
	useFakeTarget(t)
	_, err := execute(t, "snapshot", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "http://example.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestSnapshotCommand(t *testing.T) {
	ft := useFakeTarget(t)
	cfgPath := writeFile(t, "config.yaml", testConfig)

	out, err := execute(t, "snapshot", "-c", cfgPath, "--screenshot", "http://example.test/")
	require.NoError(t, err)

	var resp schemas.SnapshotResponse
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.ElementsAsJSON, 2)
	assert.Equal(t, []string{"0", "1"}, resp.AddedIDs)
	assert.Equal(t, "input", resp.ElementsAsJSON[0].Tag)
	assert.Equal(t, "Query", resp.ElementsAsJSON[0].AccessibleName)
	assert.Equal(t, "button", resp.ElementsAsJSON[1].Tag)
	assert.Equal(t, "Go", resp.ElementsAsJSON[1].AccessibleName)

	assert.Equal(t, []string{"http://example.test/"}, ft.visited)
	assert.Equal(t, 1, ft.shots)
	assert.True(t, ft.closed)
	assert.Len(t, ft.page.Markers(), 2)
	assert.Empty(t, ft.page.Masks())
}

func TestSnapshotCommandWithMaskAndSettle(t *testing.T) {
	ft := useFakeTarget(t)
	cfgPath := writeFile(t, "config.yaml", testConfig)

	_, err := execute(t, "snapshot", "-c", cfgPath, "--mask", "--settle", "http://example.test/")
	require.NoError(t, err)
	assert.Zero(t, ft.shots)
	assert.Len(t, ft.page.Masks(), 1)
	assert.Zero(t, ft.page.ActiveStreams())
}

func TestSnapshotRequiresURL(t *testing.T) {
	useFakeTarget(t)
	_, err := execute(t, "snapshot", "-c", writeFile(t, "config.yaml", testConfig))
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	ft := useFakeTarget(t)
	cfgPath := writeFile(t, "config.yaml", testConfig)
	steps := writeFile(t, "steps.yaml", `
- action: snapshot
- action: fill
  id: "0"
  value: golang
- action: enter
  id: "0"
- action: wait
  milliseconds: 1
- action: click
  id: "1"
`)

	out, err := execute(t, "run", "-c", cfgPath, "--steps", steps, "http://example.test/")
	require.NoError(t, err)

	var results []schemas.StepResult
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(out), &results))
	require.Len(t, results, 5)
	require.NotNil(t, results[0].Snapshot)
	assert.Len(t, results[0].Snapshot.ElementsAsJSON, 2)
	for _, res := range results {
		assert.Empty(t, res.Error)
	}

	calls := ft.page.Calls()
	assert.Contains(t, calls, "setValue:golang")
	assert.Contains(t, calls, "requestSubmit")
	assert.Equal(t, []string{"mousedown", "pointerdown", "click", "mouseup", "pointerup"}, ft.page.EventTypes(ft.page.MustNode("#go")))
	assert.True(t, ft.closed)
}

func TestRunCommandStopsAtFirstFailure(t *testing.T) {
	useFakeTarget(t)
	cfgPath := writeFile(t, "config.yaml", testConfig)
	steps := writeFile(t, "steps.yaml", `
- action: snapshot
- action: click
  id: "7"
- action: click
  id: "1"
`)

	out, err := execute(t, "run", "-c", cfgPath, "-s", steps, "http://example.test/")
	require.Error(t, err)
	assert.ErrorIs(t, err, dom.ErrTargetNotFound)

	var results []schemas.StepResult
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[1].Error)
}

func TestRunCommandRejectsBadSteps(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)

	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr string
	}{
		{
			name: "missing flag",
			args: func(*testing.T) []string {
				return []string{"run", "-c", cfgPath, "http://example.test/"}
			},
			wantErr: "steps",
		},
		{
			name: "missing file",
			args: func(t *testing.T) []string {
				return []string{"run", "-c", cfgPath, "-s", filepath.Join(t.TempDir(), "nope.yaml"), "http://example.test/"}
			},
			wantErr: "opening steps file",
		},
		{
			name: "unknown field",
			args: func(t *testing.T) []string {
				return []string{"run", "-c", cfgPath, "-s", writeFile(t, "steps.yaml", "- acton: click\n"), "http://example.test/"}
			},
			wantErr: "parsing steps",
		},
		{
			name: "empty file",
			args: func(t *testing.T) []string {
				return []string{"run", "-c", cfgPath, "-s", writeFile(t, "steps.yaml", ""), "http://example.test/"}
			},
			wantErr: "steps file is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := useFakeTarget(t)
			_, err := execute(t, tt.args(t)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, ft.visited, "the browser is not started for an invalid script")
		})
	}
}

func TestLoadSteps(t *testing.T) {
	src := `
- action: snapshot
- action: select
  id: "3"
  value: Blue
- action: scroll
- action: wait
  milliseconds: 250
`
	got, err := loadSteps(strings.NewReader(src))
	require.NoError(t, err)

	want := []schemas.InteractionStep{
		{Action: schemas.ActionSnapshot},
		{Action: schemas.ActionSelect, ID: "3", Value: "Blue"},
		{Action: schemas.ActionScroll},
		{Action: schemas.ActionWait, Milliseconds: 250},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loadSteps() mismatch (-want +got):\n%s", diff)
	}

	_, err = loadSteps(strings.NewReader("[]"))
	assert.ErrorContains(t, err, "steps file is empty")
}
