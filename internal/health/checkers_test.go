package health_test

import (
	"path/filepath"
	"testing"

	"github.com/saylens/saylens/internal/health"
)

func TestFFmpegCheck(t *testing.T) {
	t.Parallel()

	// "sh" is present on every platform the server targets, so the lookup
	// logic can be exercised without requiring ffmpeg on test machines.
	ok := health.FFmpegCheck("sh")
	if got, want := ok.Name, "ffmpeg"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if err := ok.Check(t.Context()); err != nil {
		t.Errorf("Check(sh) = %v, want nil", err)
	}

	missing := health.FFmpegCheck("definitely-not-a-real-binary-12345")
	if err := missing.Check(t.Context()); err == nil {
		t.Error("Check passed for a missing binary, want error")
	}
}

func TestCacheDirCheck(t *testing.T) {
	t.Parallel()

	ok := health.CacheDirCheck(t.TempDir())
	if got, want := ok.Name, "tts_cache"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if err := ok.Check(t.Context()); err != nil {
		t.Errorf("Check = %v, want nil", err)
	}

	missing := health.CacheDirCheck(filepath.Join(t.TempDir(), "does", "not", "exist"))
	if err := missing.Check(t.Context()); err == nil {
		t.Error("Check passed for a nonexistent directory, want error")
	}
}
