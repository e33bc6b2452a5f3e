package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FFmpegCheck verifies the ffmpeg binary used for audio decoding is present
// on PATH (or at the configured absolute path). Assessments of non-WAV
// uploads cannot proceed without it.
func FFmpegCheck(path string) Checker {
	if path == "" {
		path = "ffmpeg"
	}
	return Checker{
		Name: "ffmpeg",
		Check: func(_ context.Context) error {
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("ffmpeg not found: %w", err)
			}
			return nil
		},
	}
}

// CacheDirCheck verifies the TTS cache directory is writable by creating and
// removing a probe file.
func CacheDirCheck(dir string) Checker {
	return Checker{
		Name: "tts_cache",
		Check: func(_ context.Context) error {
			f, err := os.CreateTemp(dir, "probe_*")
			if err != nil {
				return fmt.Errorf("cache dir not writable: %w", err)
			}
			name := f.Name()
			f.Close()
			if err := os.Remove(filepath.Clean(name)); err != nil {
				return fmt.Errorf("cache dir cleanup failed: %w", err)
			}
			return nil
		},
	}
}
