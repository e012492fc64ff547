package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// FileName is the optional operator file looked up next to the launcher.
const FileName = "tanrenai-gemma.yaml"

// LauncherDir returns the absolute directory holding the launcher
// executable, with symlinks resolved. executable is normally os.Executable.
func LauncherDir(executable func() (string, error)) (string, error) {
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("locate launcher executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	abs, err := filepath.Abs(exe)
	if err != nil {
		return "", fmt.Errorf("absolute launcher path: %w", err)
	}
	return filepath.Dir(abs), nil
}

// ModelPath returns where the launcher expects the model weights.
func ModelPath(launcherDir string) string {
	return filepath.Join(launcherDir, ModelDirName, ModelFileName)
}

// FilePath returns the operator file location for launcherDir.
func FilePath(launcherDir string) string {
	return filepath.Join(launcherDir, FileName)
}

// DataDir returns the default data directory for tanrenai.
// Windows: %LOCALAPPDATA%\tanrenai
// Linux/Mac: ~/.local/share/tanrenai
func DataDir() string {
	if dir := os.Getenv("TANRENAI_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "tanrenai")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tanrenai")
}

// BinDirs lists the directories searched for llama-server, in order.
func BinDirs(launcherDir string) []string {
	return []string{
		filepath.Join(launcherDir, "bin"),
		filepath.Join(DataDir(), "bin"),
	}
}
