package ttscache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saylens/saylens/internal/ttscache"
	"github.com/saylens/saylens/internal/upstream"
	"github.com/saylens/saylens/pkg/provider/tts/mock"
)

func testGuard(t *testing.T) *upstream.Guard {
	t.Helper()
	return upstream.NewGuard(2, upstream.WithMaxRetries(0))
}

func TestSynthesize_MissThenHit(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Audio: []byte("mp3-bytes")}
	cache, err := ttscache.New(t.TempDir(), provider, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := cache.Synthesize(t.Context(), "hello there", "rachel")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if first.Cached {
		t.Error("first call reported Cached = true, want false")
	}
	if !strings.HasPrefix(first.FileName, "tts_") || !strings.HasSuffix(first.FileName, ".mp3") {
		t.Errorf("file name = %q, want tts_<hash>.mp3", first.FileName)
	}
	data, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Errorf("cache file content = %q, want %q", data, "mp3-bytes")
	}

	second, err := cache.Synthesize(t.Context(), "hello there", "rachel")
	if err != nil {
		t.Fatalf("Synthesize (hit): %v", err)
	}
	if !second.Cached {
		t.Error("second call reported Cached = false, want true")
	}
	if second.FileName != first.FileName {
		t.Errorf("hit file name = %q, want %q", second.FileName, first.FileName)
	}
	if got := provider.CallCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}

	if got := cache.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}

	call := provider.Calls[0]
	if call.Req.Text != "hello there" || call.Req.Voice != "rachel" {
		t.Errorf("request = %+v, want text/voice forwarded verbatim", call.Req)
	}
}

func TestSynthesize_PersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	provider := &mock.Provider{Audio: []byte("audio")}

	cache, err := ttscache.New(dir, provider, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cache.Synthesize(t.Context(), "persistent text", "v1"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	// A fresh cache over the same directory indexes the existing file.
	reopened, err := ttscache.New(dir, provider, testGuard(t))
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if got := reopened.Len(); got != 1 {
		t.Fatalf("reopened Len = %d, want 1", got)
	}
	entry, err := reopened.Synthesize(t.Context(), "persistent text", "v1")
	if err != nil {
		t.Fatalf("Synthesize (reopened): %v", err)
	}
	if !entry.Cached {
		t.Error("reopened cache reported Cached = false, want true")
	}
	if got := provider.CallCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	cache, err := ttscache.New(t.TempDir(), &mock.Provider{Audio: []byte("a")}, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cache.Synthesize(t.Context(), "   ", "v"); err == nil {
		t.Fatal("Synthesize succeeded on blank text, want error")
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got, want := ttscache.Key("  hello  ", "v"), ttscache.Key("hello", "v"); got != want {
		t.Errorf("Key ignores surrounding whitespace: %q != %q", got, want)
	}
	if ttscache.Key("hello", "alice") == ttscache.Key("hello", "bob") {
		t.Error("Key collides across voices")
	}
	if ttscache.Key("hello", "v") == ttscache.Key("goodbye", "v") {
		t.Error("Key collides across texts")
	}
	if got := len(ttscache.Key("hello", "v")); got != 16 {
		t.Errorf("Key length = %d, want 16", got)
	}
}

func TestSynthesize_ConcurrentMissesCollapse(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	provider := &mock.Provider{
		Audio: []byte("audio"),
		Delay: func(ctx context.Context) error {
			select {
			case <-block:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cache, err := ttscache.New(t.TempDir(), provider, upstream.NewGuard(8, upstream.WithMaxRetries(0)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const waiters = 5
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Synthesize(t.Context(), "same text", "same voice")
		}()
	}

	// Wait for the flight to start, then release it.
	for provider.CallCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
	if got := provider.CallCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestSynthesize_ErrorNotCached(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Err: errors.New("voice not found")}
	cache, err := ttscache.New(t.TempDir(), provider, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := cache.Synthesize(t.Context(), "text", "v"); err == nil {
		t.Fatal("Synthesize succeeded, want error")
	}
	if _, err := cache.Synthesize(t.Context(), "text", "v"); err == nil {
		t.Fatal("second Synthesize succeeded, want error")
	}
	if got := provider.CallCount(); got != 2 {
		t.Errorf("provider called %d times, want 2 (errors are not cached)", got)
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestSynthesize_EmptyAudioRejected(t *testing.T) {
	t.Parallel()

	cache, err := ttscache.New(t.TempDir(), &mock.Provider{}, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cache.Synthesize(t.Context(), "text", "v"); err == nil {
		t.Fatal("Synthesize succeeded on empty audio, want error")
	}
}

func TestSynthesize_StaleIndexEntryRefilled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	provider := &mock.Provider{Audio: []byte("audio")}
	cache, err := ttscache.New(dir, provider, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := cache.Synthesize(t.Context(), "text", "v")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	// Remove the file behind the cache's back; the next call must notice and
	// re-synthesize instead of serving a dangling entry.
	if err := os.Remove(entry.Path); err != nil {
		t.Fatalf("remove cache file: %v", err)
	}
	again, err := cache.Synthesize(t.Context(), "text", "v")
	if err != nil {
		t.Fatalf("Synthesize (after removal): %v", err)
	}
	if again.Cached {
		t.Error("Cached = true after file removal, want false")
	}
	if got := provider.CallCount(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestFilePath_StripsDirectoryComponents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cache, err := ttscache.New(dir, &mock.Provider{Audio: []byte("a")}, testGuard(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := cache.FilePath("../../etc/passwd")
	if want := filepath.Join(dir, "passwd"); got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}
