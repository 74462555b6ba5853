package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldbackup/internal/catalog"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := min(int64(chunkSize), remaining)
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteWorld populates dir with a small world layout: level.dat, two region
// files, and a session.lock. It returns the total bytes written.
func WriteWorld(t testing.TB, dir string) int64 {
	t.Helper()
	files := map[string]int64{
		"level.dat":              512,
		"session.lock":           3,
		"region/r.0.0.mca":       8192,
		"region/r.0.-1.mca":      4096,
		"playerdata/alice.dat":   256,
		"data/raids.dat":         64,
		"DIM-1/region/r.0.0.mca": 1024,
	}
	var total int64
	for name, size := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), size)
		total += size
	}
	return total
}

// WriteArtifact creates a fake tar.gz artifact of size bytes in dir for the
// given creation time and returns the matching Complete record.
func WriteArtifact(t testing.TB, dir, world string, created time.Time, size int64) catalog.Record {
	t.Helper()
	id := catalog.FormatID(created)
	path := filepath.Join(dir, catalog.ArtifactName(id, catalog.FormatTarGz))
	WriteFile(t, path, size)
	return catalog.Record{
		ID:        id,
		World:     world,
		Path:      path,
		SizeBytes: size,
		CreatedAt: created.UTC().Truncate(time.Second),
		Status:    catalog.StatusComplete,
		Format:    catalog.FormatTarGz,
	}
}
