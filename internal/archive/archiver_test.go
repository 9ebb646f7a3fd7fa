package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cardmotion/internal/stats"
	"cardmotion/pkg/model"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestArchiver(t *testing.T) (*Archiver, *stats.Stats) {
	t.Helper()
	st := stats.New()
	a, err := New(t.TempDir(), st)
	require.NoError(t, err)
	return a, st
}

func TestWriteFrameLayout(t *testing.T) {
	a, st := newTestArchiver(t)

	rel, err := a.WriteFrame("animations", 2, model.ProbeHover, 1, []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("animations", "2", "hover", "frame_1.png"), rel)

	b, err := os.ReadFile(filepath.Join(a.Root(), rel))
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), b)
	require.Equal(t, 1, st.Snapshot().ScreenshotsTaken)
}

func TestWriteFrameOverwriteIsIdempotent(t *testing.T) {
	a, _ := newTestArchiver(t)

	rel1, err := a.WriteFrame("animations", 0, model.ProbeBaseline, 0, []byte("first"))
	require.NoError(t, err)
	rel2, err := a.WriteFrame("animations", 0, model.ProbeBaseline, 0, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, rel1, rel2)

	b, err := os.ReadFile(filepath.Join(a.Root(), rel1))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), b)
}

func TestWriteFrameUpdatesManifest(t *testing.T) {
	a, _ := newTestArchiver(t)

	_, err := a.WriteFrame("animations", 0, model.ProbeBaseline, 0, []byte("x"))
	require.NoError(t, err)
	_, err = a.WriteFrame("animations", 3, model.ProbeContinuous, 7, []byte("y"))
	require.NoError(t, err)

	man, err := os.ReadFile(filepath.Join(a.Root(), manifestName))
	require.NoError(t, err)

	got := gjson.GetBytes(man, "frames.animations.e0.baseline.f0")
	require.Equal(t, filepath.Join("animations", "0", "baseline", "frame_0.png"), got.String())
	got = gjson.GetBytes(man, "frames.animations.e3.continuous.f7")
	require.Equal(t, filepath.Join("animations", "3", "continuous", "frame_7.png"), got.String())
}

func TestWriteFrameConcurrentManifestUpdates(t *testing.T) {
	a, st := newTestArchiver(t)

	const frames = 16
	errs := make(chan error, frames)
	var wg sync.WaitGroup
	for i := 0; i < frames; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.WriteFrame("animations", i, model.ProbeBaseline, 0, []byte("x"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	man, err := os.ReadFile(filepath.Join(a.Root(), manifestName))
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		key := fmt.Sprintf("frames.animations.e%d.baseline.f0", i)
		require.True(t, gjson.GetBytes(man, key).Exists(), key)
	}
	require.Equal(t, frames, st.Snapshot().ScreenshotsTaken)
}

func TestWriteJSON(t *testing.T) {
	a, _ := newTestArchiver(t)

	abs, err := a.WriteJSON(filepath.Join("example.com", "report.json"), map[string]int{"elements_found": 4})
	require.NoError(t, err)

	b, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.Equal(t, int64(4), gjson.GetBytes(b, "elements_found").Int())
}

func TestWriteBytesCreatesParents(t *testing.T) {
	a, _ := newTestArchiver(t)

	abs, err := a.WriteBytes(filepath.Join("example.com", "raw_html", "page.html"), []byte("<html/>"))
	require.NoError(t, err)
	require.FileExists(t, abs)
}

func TestNewFailsOnUnwritableRoot(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	// A plain file where the root should be cannot become a directory.
	_, err := New(filepath.Join(file, "sub"), stats.New())
	require.Error(t, err)
	require.True(t, model.IsArchive(err))
}
