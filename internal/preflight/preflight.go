package preflight

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"sprocket/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Seams for environment stubbing in tests.
var (
	lookPath = exec.LookPath
	statfs   = realStatfs
)

// RunAll executes every applicable check for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckBinary("FFmpeg", cfg.FFmpegBinary()),
		CheckBinary("FFprobe", cfg.FFprobeBinary()),
		CheckDirectoryAccess("Source directory", cfg.Paths.SourceDir),
		CheckDirectoryAccess("Generated directory", cfg.Paths.GeneratedDir),
		CheckDirectoryAccess("Metadata directory", cfg.Paths.MetadataDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
	}
	if cfg.Cache.FreeSpaceFloorPct > 0 {
		results = append(results, CheckFreeSpace(cfg.Paths.GeneratedDir, cfg.Cache.FreeSpaceFloorPct))
	}
	return results
}

// Healthy reports whether every result passed.
func Healthy(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// CheckBinary verifies the named command resolves on PATH (or is an
// executable at an absolute path).
func CheckBinary(name, command string) Result {
	path, err := lookPath(command)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s not found on PATH", command)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path keeps at least
// floorPct percent of its capacity free.
func CheckFreeSpace(path string, floorPct int) Result {
	const name = "Free disk space"
	total, free, err := statfs(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs %s: %v", path, err)}
	}
	if total == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("statfs %s reported zero capacity", path)}
	}
	freePct := float64(free) / float64(total) * 100
	detail := fmt.Sprintf("%.1f%% free (floor %d%%)", freePct, floorPct)
	if freePct < float64(floorPct) {
		return Result{Name: name, Detail: detail}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
