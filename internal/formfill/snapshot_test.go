// internal/formfill/snapshot_test.go
package formfill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlStats(t *testing.T) {
	doc := `<html><body>
		<form>
			<input type="text" name="a">
			<input type="email" name="b">
			<select name="c"><option>x</option></select>
			<textarea name="d"></textarea>
			<button type="submit">Go</button>
		</form>
	</body></html>`

	stats := controlStats(doc)
	assert.Equal(t, 1, stats.Forms)
	assert.Equal(t, 2, stats.Inputs)
	assert.Equal(t, 1, stats.Selects)
	assert.Equal(t, 1, stats.Textareas)
	assert.Equal(t, 1, stats.Buttons)
}

func TestControlStatsToleratesBrokenMarkup(t *testing.T) {
	stats := controlStats(`<form><input name="a"><div><select`)
	assert.Equal(t, 1, stats.Forms)
	assert.Equal(t, 1, stats.Inputs)
}

func TestDiskSnapshotterWritesDump(t *testing.T) {
	d := newFakeDriver()
	d.html = `<html><body><form><input name="x"></form></body></html>`
	dir := t.TempDir()

	s := NewDiskSnapshotter(d, dir, testLogger())
	s.Capture(context.Background(), "field vanished")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".html", filepath.Ext(entries[0].Name()))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, d.html, string(data))
}

func TestDiskSnapshotterNoDirConfigured(t *testing.T) {
	d := newFakeDriver()
	s := NewDiskSnapshotter(d, "", testLogger())
	// Must not panic or write anywhere; statistics are only logged.
	s.Capture(context.Background(), "diagnostics")
}
