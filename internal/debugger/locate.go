package debugger

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
)

// kitsArchDirs lists the Windows Kits debugger directories in probe order,
// most specific architecture first.
func kitsArchDirs() []string {
	switch runtime.GOARCH {
	case "amd64":
		return []string{"x64", "x86"}
	case "386":
		return []string{"x86"}
	case "arm64":
		return []string{"arm64", "x64"}
	case "arm":
		return []string{"arm"}
	default:
		return []string{"x64", "x86", "arm64", "arm"}
	}
}

func standardInstallDirs() []string {
	roots := []string{
		filepath.Join(os.Getenv("ProgramFiles(x86)"), "Windows Kits", "10", "Debuggers"),
		filepath.Join(os.Getenv("ProgramFiles"), "Windows Kits", "10", "Debuggers"),
	}
	var dirs []string
	for _, root := range roots {
		for _, arch := range kitsArchDirs() {
			dirs = append(dirs, filepath.Join(root, arch))
		}
	}
	return dirs
}

// LocateBinary resolves the debugger executable.
//
// Resolution order: explicit configured path, then the process environment
// search path, then the architecture-aware standard install locations.
// A missing binary is a ConfigInvalid error; session creation surfaces it
// without mutating any state.
func LocateBinary(configured string) (string, error) {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured, nil
		}
		return "", apperrors.Newf(apperrors.KindConfigInvalid,
			"configured debugger binary %q does not exist", configured)
	}

	for _, name := range []string{"cdb", "cdb.exe"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, dir := range standardInstallDirs() {
		candidate := filepath.Join(dir, "cdb.exe")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", apperrors.ConfigInvalid(
		"debugger binary not found: set debugger.path or install the Windows Debugging Tools")
}
