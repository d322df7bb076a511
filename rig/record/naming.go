package record

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	EXPERIMENT_PREFIX = "Experiment_"
	EXPERIMENT_EXT    = ".csv"
	SIDECAR_EXT       = ".yaml"
	DATE_FOLDER       = "January-02"
)

var ErrInvalidName = stderrors.New("experiment names cannot contain a path separator")

// NextExperimentNumber scans dir for Experiment_<n>.csv and returns the highest n plus one, so
// gaps left by deleted runs are never reused. A missing dir starts at 1.
func NextExperimentNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}

	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, EXPERIMENT_PREFIX) || !strings.HasSuffix(name, EXPERIMENT_EXT) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, EXPERIMENT_PREFIX), EXPERIMENT_EXT))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}

// ResolvePath picks where a run is written. Without a name the run goes into a folder for today,
// auto numbered; with one it goes straight into base. resolved is the run's path relative to base,
// slash separated and without the extension, which is what the index keys runs by: numbering starts
// over every day, so the bare name alone is not unique.
func ResolvePath(base, name string, now time.Time) (path, resolved string, err error) {
	dir := base
	if name == "" {
		folder := now.Format(DATE_FOLDER)
		dir = filepath.Join(base, folder)
		name = EXPERIMENT_PREFIX + strconv.Itoa(NextExperimentNumber(dir))
		resolved = folder + "/" + name
	} else {
		if strings.ContainsAny(name, `/\`) {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		name = strings.TrimSuffix(name, EXPERIMENT_EXT)
		resolved = name
	}

	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", "", err
	}
	return filepath.Join(dir, name+EXPERIMENT_EXT), resolved, nil
}

// SidecarPath is the metadata file that sits next to a run's CSV.
func SidecarPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, EXPERIMENT_EXT) + SIDECAR_EXT
}
