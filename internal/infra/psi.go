package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// DefaultPSIPath is the kernel's memory pressure file.
const DefaultPSIPath = "/proc/pressure/memory"

// PSIReader implements domain.PressureReader over a PSI file.
type PSIReader struct {
	path string
	now  func() time.Time
}

// NewPSIReader creates a reader for path (DefaultPSIPath when empty).
func NewPSIReader(path string) *PSIReader {
	if path == "" {
		path = DefaultPSIPath
	}
	return &PSIReader{path: path, now: time.Now}
}

// Read parses the PSI file. A missing file, a kernel without PSI support
// or a file without a "some" line is reported as ErrPressureUnavailable.
func (r *PSIReader) Read() (domain.PressureSample, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.EOPNOTSUPP) {
			return domain.PressureSample{}, fmt.Errorf("read %s: %w", r.path, domain.ErrPressureUnavailable)
		}
		return domain.PressureSample{}, fmt.Errorf("read %s: %w", r.path, err)
	}

	sample, ok := parsePSI(string(data))
	if !ok {
		return domain.PressureSample{}, fmt.Errorf("%s has no some line: %w", r.path, domain.ErrPressureUnavailable)
	}
	sample.SampledAt = r.now()
	return sample, nil
}

// parsePSI parses "some avg10=.. avg60=.. avg300=.. total=.." and the
// matching "full" line. ok is false when no some line was found.
func parsePSI(content string) (domain.PressureSample, bool) {
	var s domain.PressureSample
	var haveSome bool
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pl, kind, err := parsePSILine(line)
		if err != nil {
			continue
		}
		switch kind {
		case "some":
			s.Some = pl
			haveSome = true
		case "full":
			s.Full = pl
		}
	}
	return s, haveSome
}

func parsePSILine(line string) (domain.PressureLine, string, error) {
	var pl domain.PressureLine
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return pl, "", fmt.Errorf("unexpected PSI line: %s", line)
	}

	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "avg10":
			pl.Avg10, _ = strconv.ParseFloat(value, 64)
		case "avg60":
			pl.Avg60, _ = strconv.ParseFloat(value, 64)
		case "avg300":
			pl.Avg300, _ = strconv.ParseFloat(value, 64)
		case "total":
			pl.Total, _ = strconv.ParseUint(value, 10, 64)
		}
	}
	return pl, fields[0], nil
}

// Ensure PSIReader implements domain.PressureReader.
var _ domain.PressureReader = (*PSIReader)(nil)
