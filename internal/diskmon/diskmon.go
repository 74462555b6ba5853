package diskmon

import (
	"context"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"worldbackup/internal/faults"
	"worldbackup/internal/fileutil"
)

// Usage describes capacity of the filesystem holding a path.
type Usage struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// StatFunc reports filesystem usage for the volume containing path.
type StatFunc func(path string) (Usage, error)

// Monitor answers free-space questions for the backup volume.
type Monitor struct {
	volume string
	margin int64
	stat   StatFunc
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithStatFunc replaces the statfs call, mainly for tests.
func WithStatFunc(fn StatFunc) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.stat = fn
		}
	}
}

// New builds a monitor for volume with the given admission safety margin.
func New(volume string, margin int64, opts ...Option) *Monitor {
	if margin < 0 {
		margin = 0
	}
	m := &Monitor{volume: volume, margin: margin, stat: Statfs}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Margin returns the admission safety margin in bytes.
func (m *Monitor) Margin() int64 { return m.margin }

// Usage returns total and free bytes on the monitored volume.
func (m *Monitor) Usage(_ context.Context) (Usage, error) {
	usage, err := m.stat(m.volume)
	if err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", m.volume, err)
	}
	return usage, nil
}

// FreeBytes returns the bytes available to unprivileged writers.
func (m *Monitor) FreeBytes(ctx context.Context) (int64, error) {
	usage, err := m.Usage(ctx)
	if err != nil {
		return 0, err
	}
	return clampInt64(usage.FreeBytes), nil
}

// Admission is the result of a pre-flight space check.
type Admission struct {
	FreeBytes     int64 `json:"free_bytes"`
	ExpectedBytes int64 `json:"expected_bytes"`
	MarginBytes   int64 `json:"margin_bytes"`
	Allowed       bool  `json:"allowed"`
}

// Shortfall is how many bytes must be freed before the backup is admitted.
func (a Admission) Shortfall() int64 {
	if a.Allowed {
		return 0
	}
	return a.ExpectedBytes + a.MarginBytes - a.FreeBytes
}

// Err returns a DiskSpaceExhausted error for a rejected admission, or nil.
func (a Admission) Err() error {
	if a.Allowed {
		return nil
	}
	return faults.Wrap(faults.ErrDiskSpaceExhausted, "diskmon", "admit",
		fmt.Sprintf("free %s is below expected %s plus margin %s",
			humanize.IBytes(uint64(max(a.FreeBytes, 0))),
			humanize.IBytes(uint64(max(a.ExpectedBytes, 0))),
			humanize.IBytes(uint64(max(a.MarginBytes, 0)))),
		nil)
}

// Admit decides whether a backup of expected bytes may start. A backup is
// admitted only when free >= expected + margin.
func (m *Monitor) Admit(ctx context.Context, expected int64) (Admission, error) {
	free, err := m.FreeBytes(ctx)
	if err != nil {
		return Admission{}, err
	}
	if expected < 0 {
		expected = 0
	}
	need := expected + m.margin
	if need < expected {
		need = math.MaxInt64
	}
	return Admission{
		FreeBytes:     free,
		ExpectedBytes: expected,
		MarginBytes:   m.margin,
		Allowed:       free >= need,
	}, nil
}

// DirSize sums the sizes of regular files and symlinks under root without
// following links. Cancellation is checked between entries.
func DirSize(ctx context.Context, root string) (int64, error) {
	size, err := fileutil.TreeSize(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", root, err)
	}
	return size, nil
}

// Statfs reads usage for path with statfs(2). FreeBytes counts blocks
// available to unprivileged users.
func Statfs(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}
	bsize := uint64(stat.Bsize)
	return Usage{
		TotalBytes: stat.Blocks * bsize,
		FreeBytes:  stat.Bavail * bsize,
	}, nil
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
