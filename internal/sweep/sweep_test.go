package sweep

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/testutil"
)

func newTestRelocator(fs afero.Fs) *Relocator {
	r := New(fs, Options{}, nil)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestParseName(t *testing.T) {
	r := New(afero.NewMemMapFs(), Options{}, nil)
	tests := []struct {
		name    string
		want    Slot
		wantErr bool
	}{
		{"cam1_250131_235901.mp4", Slot{2025, 1, 31, 23}, false},
		{"cam1_250131_235901.srt", Slot{2025, 1, 31, 23}, false},
		{"vessel_a_cam_12_240229_000000.mp4", Slot{2024, 2, 29, 0}, false},
		{"cam1_250131_235901.mkv", Slot{}, true},
		{"cam1_25013_235901.mp4", Slot{}, true},
		{"cam1_251331_235901.mp4", Slot{}, true},
		{"cam1_250100_120000.mp4", Slot{}, true},
		{"cam1_250131_245901.mp4", Slot{}, true},
		{"cam1_250131_235901.mp4.part", Slot{}, true},
		{"readme.txt", Slot{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ParseName(tt.name)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrPatternMismatch) {
					t.Errorf("ParseName(%q) err = %v, want ErrPatternMismatch", tt.name, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseName(%q) = %+v, %v; want %+v", tt.name, got, err, tt.want)
			}
		})
	}
}

func TestSlotDir(t *testing.T) {
	got := Slot{2025, 1, 31, 23}.Dir("/mnt/nas/cam")
	if got != "/mnt/nas/cam/2025/01/31/23" {
		t.Errorf("Dir = %q", got)
	}
}

func TestSweepOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/temp/cam1_250131_235901.mp4":      "video",
		"/temp/cam1_250131_235901.srt":      "subs",
		"/temp/cam1_250201_000102.mp4":      "video",
		"/temp/temp_cam1_250201_000500.mp4": "recording",
		"/temp/notes.txt":                   "keep",
	})
	r := newTestRelocator(fs)
	cfg := stream.Config{StreamID: 1, TempDir: "/temp", FinalRoot: "/archive"}

	res := r.SweepOnce(cfg)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.Count() != 3 {
		t.Fatalf("moved %d, want 3: %+v", res.Count(), res)
	}

	got := testutil.ListFiles(t, fs, "/archive")
	sort.Strings(got)
	want := []string{
		"2025/01/31/23/cam1_250131_235901.mp4",
		"2025/01/31/23/cam1_250131_235901.srt",
		"2025/02/01/00/cam1_250201_000102.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("archive = %v, want %v", got, want)
	}
	testutil.AssertExists(t, fs, "/temp/temp_cam1_250201_000500.mp4")
	testutil.AssertExists(t, fs, "/temp/notes.txt")
}

func TestSweepOnce_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{"/temp/cam1_250131_235901.mp4": "video"})
	r := newTestRelocator(fs)
	cfg := stream.Config{StreamID: 1, TempDir: "/temp", FinalRoot: "/archive"}

	if n := r.SweepOnce(cfg).Count(); n != 1 {
		t.Fatalf("first pass moved %d", n)
	}
	if n := r.SweepOnce(cfg).Count(); n != 0 {
		t.Errorf("second pass moved %d, want 0", n)
	}
}

func TestSweepOnce_NeverOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/temp/cam1_250131_235901.mp4":                  "new",
		"/archive/2025/01/31/23/cam1_250131_235901.mp4": "old",
	})
	r := newTestRelocator(fs)

	res := r.SweepOnce(stream.Config{StreamID: 1, TempDir: "/temp", FinalRoot: "/archive"})
	if res.Count() != 0 || !reflect.DeepEqual(res.Conflicts, []string{"cam1_250131_235901.mp4"}) {
		t.Errorf("res = %+v", res)
	}
	data, _ := afero.ReadFile(fs, "/archive/2025/01/31/23/cam1_250131_235901.mp4")
	if string(data) != "old" {
		t.Error("archive file was overwritten")
	}
	testutil.AssertExists(t, fs, "/temp/cam1_250131_235901.mp4")
}

func TestSweepOnce_MissingDir(t *testing.T) {
	r := newTestRelocator(afero.NewMemMapFs())
	res := r.SweepOnce(stream.Config{StreamID: 5, TempDir: "/gone", FinalRoot: "/archive"})
	if res.Count() != 0 || !errors.Is(res.Err, errors.ErrPathUnavailable) {
		t.Errorf("res = %+v", res)
	}
}

// crossDeviceFs fails every rename the way a move to another mount does.
type crossDeviceFs struct {
	afero.Fs
}

func (c crossDeviceFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: unix.EXDEV}
}

func TestSweepOnce_CrossDevice(t *testing.T) {
	mem := afero.NewMemMapFs()
	testutil.WriteFiles(t, mem, map[string]string{"/temp/cam2_250131_120000.mp4": "payload"})
	r := newTestRelocator(crossDeviceFs{mem})

	res := r.SweepOnce(stream.Config{StreamID: 2, TempDir: "/temp", FinalRoot: "/nas"})
	if res.Count() != 1 || !res.Moved[0].Copied {
		t.Fatalf("res = %+v", res)
	}
	dst := filepath.Join("/nas/2025/01/31/12", "cam2_250131_120000.mp4")
	data, err := afero.ReadFile(mem, dst)
	if err != nil || string(data) != "payload" {
		t.Errorf("copied file = %q, %v", data, err)
	}
	testutil.AssertMissing(t, mem, "/temp/cam2_250131_120000.mp4")
}

func TestSweepUntilQuiescent(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/s1/cam1_250131_235901.mp4": "a",
		"/s2/cam2_250131_235901.mp4": "b",
	})
	r := New(fs, Options{}, nil)
	pauses := 0
	r.sleep = func(context.Context, time.Duration) error {
		pauses++
		// A late file appears after the first pass, as the finalizer would leave it.
		if pauses == 1 {
			_ = afero.WriteFile(fs, "/s1/cam1_250201_000000.srt", []byte("c"), 0644)
		}
		return nil
	}
	cfgs := []stream.Config{
		{StreamID: 1, TempDir: "/s1", FinalRoot: "/archive"},
		{StreamID: 2, TempDir: "/s2", FinalRoot: "/archive"},
		{StreamID: 3, TempDir: "/s3", FinalRoot: "/archive"},
	}

	d := r.SweepUntilQuiescent(context.Background(), cfgs, 20)
	if d.Moved != 3 || d.Passes != 3 || !d.Quiescent {
		t.Errorf("drain = %+v, want 3 moved over 3 passes", d)
	}
	if pauses != 2 {
		t.Errorf("pauses = %d, want 2", pauses)
	}
}

func TestSweepUntilQuiescent_MaxPasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, Options{}, nil)
	n := 0
	feed := func() {
		n++
		_ = afero.WriteFile(fs, filepath.Join("/s1", "cam1_250131_23590"+string(rune('0'+n%10))+".mp4"), []byte("x"), 0644)
	}
	feed()
	r.sleep = func(context.Context, time.Duration) error { feed(); return nil }

	d := r.SweepUntilQuiescent(context.Background(),
		[]stream.Config{{StreamID: 1, TempDir: "/s1", FinalRoot: "/archive"}}, 4)
	if d.Passes != 4 || d.Quiescent {
		t.Errorf("drain = %+v, want 4 passes without quiescence", d)
	}
}

func TestSweepUntilQuiescent_Canceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{"/s1/cam1_250131_235901.mp4": "a"})
	r := New(fs, Options{Pause: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := r.SweepUntilQuiescent(ctx, []stream.Config{{StreamID: 1, TempDir: "/s1", FinalRoot: "/a"}}, 20)
	if d.Passes != 1 || d.Moved != 1 || d.Quiescent {
		t.Errorf("drain = %+v, want to stop after the first pass", d)
	}
}
