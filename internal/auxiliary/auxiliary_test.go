package auxiliary

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/streamstop/internal/proctree"
	"github.com/Iron-Ham/streamstop/internal/terminate"
	"github.com/Iron-Ham/streamstop/internal/testutil"
)

type fakeSessions struct {
	stopped []string
	result  bool
}

func (f *fakeSessions) StopSession(_ context.Context, name string) bool {
	f.stopped = append(f.stopped, name)
	return f.result
}

type staticTree struct{ tree *proctree.Tree }

func (s staticTree) Build(context.Context) *proctree.Tree { return s.tree }

type fakeKiller struct {
	terminated [][]int
	grace      time.Duration
	report     terminate.Report
	signaled   [][]int
	sigs       []unix.Signal
}

func (f *fakeKiller) Terminate(pids []int, grace time.Duration) terminate.Report {
	f.terminated = append(f.terminated, pids)
	f.grace = grace
	r := f.report
	r.PIDs = pids
	return r
}

func (f *fakeKiller) Signal(pids []int, sig unix.Signal) ([]int, []error) {
	f.signaled = append(f.signaled, pids)
	f.sigs = append(f.sigs, sig)
	return pids, nil
}

// Controller 900 runs under a shell (800) whose command line mentions
// mediamtx; neither may be matched.
func testTree() *proctree.Tree {
	return proctree.NewTree([]proctree.Node{
		{PID: 1, PPID: 0, Command: "/sbin/init"},
		{PID: 800, PPID: 1, Command: "bash -c ./stop_all.sh mediamtx"},
		{PID: 900, PPID: 800, Command: "streamstop stop"},
		{PID: 1200, PPID: 1, Command: "./mediamtx mediamtx.yml"},
		{PID: 1201, PPID: 1, Command: "/opt/mediamtx/mediamtx"},
		{PID: 1300, PPID: 1, Command: "python3 run_daemon.py --vessel 3"},
	})
}

func newTestCleaner(fs afero.Fs, sessions SessionStopper, killer ProcessKiller, opts Options) *Cleaner {
	c := New(fs, sessions, staticTree{testTree()}, killer, opts, nil)
	c.self = 900
	return c
}

func TestStopMediaServer_ExcludesSelfAndAncestors(t *testing.T) {
	killer := &fakeKiller{report: terminate.Report{Stopped: true}}
	c := newTestCleaner(afero.NewMemMapFs(), nil, killer, Options{
		MediaServerMatch: "mediamtx",
		MediaGrace:       3 * time.Second,
	})

	pids, stopped, failures := c.StopMediaServer(context.Background())
	if !stopped || len(failures) != 0 {
		t.Fatalf("stopped = %v, failures = %v", stopped, failures)
	}
	want := []int{1200, 1201}
	if !reflect.DeepEqual(pids, want) {
		t.Errorf("pids = %v, want %v", pids, want)
	}
	if len(killer.terminated) != 1 || !reflect.DeepEqual(killer.terminated[0], want) {
		t.Errorf("terminated = %v", killer.terminated)
	}
	if killer.grace != 3*time.Second {
		t.Errorf("grace = %v, want 3s", killer.grace)
	}
}

func TestStopMediaServer_NothingRunning(t *testing.T) {
	killer := &fakeKiller{}
	c := newTestCleaner(afero.NewMemMapFs(), nil, killer, Options{MediaServerMatch: "nginx-rtmp"})

	pids, stopped, _ := c.StopMediaServer(context.Background())
	if pids != nil || !stopped {
		t.Errorf("pids = %v, stopped = %v; want nil, true", pids, stopped)
	}
	if len(killer.terminated) != 0 {
		t.Error("nothing should be terminated")
	}
}

func TestStopMediaServer_Survivors(t *testing.T) {
	killer := &fakeKiller{report: terminate.Report{Escalated: []int{1200}, Remaining: []int{1200}}}
	c := newTestCleaner(afero.NewMemMapFs(), nil, killer, Options{MediaServerMatch: "mediamtx"})

	_, stopped, _ := c.StopMediaServer(context.Background())
	if stopped {
		t.Error("stopped should be false when a process remains")
	}
}

func TestStopDaemon_TermOnly(t *testing.T) {
	killer := &fakeKiller{}
	c := newTestCleaner(afero.NewMemMapFs(), nil, killer, Options{DaemonMatch: "run_daemon.py"})

	pids, failures := c.StopDaemon(context.Background())
	if !reflect.DeepEqual(pids, []int{1300}) || len(failures) != 0 {
		t.Fatalf("pids = %v, failures = %v", pids, failures)
	}
	if len(killer.sigs) != 1 || killer.sigs[0] != unix.SIGTERM {
		t.Errorf("signals = %v, want one SIGTERM", killer.sigs)
	}
	if len(killer.terminated) != 0 {
		t.Error("daemon must not be escalated")
	}
}

func TestRemoveTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/opt/rec/.env.temp1":   "A=1",
		"/opt/rec/.env.temp4":   "A=4",
		"/opt/rec/.env.temp9":   "outside range",
		"/opt/rec/.env":         "A=0",
		"/opt/rec/.env.stream1": "kept",
	})
	c := newTestCleaner(fs, nil, &fakeKiller{}, Options{
		BaseDir:       "/opt/rec",
		EnvTempFiles:  6,
		RemoveEnvFile: true,
	})

	removed, failures := c.RemoveTempFiles()
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	want := []string{".env.temp1", ".env.temp4", ".env"}
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}
	testutil.AssertMissing(t, fs, "/opt/rec/.env.temp1")
	testutil.AssertMissing(t, fs, "/opt/rec/.env")
	testutil.AssertExists(t, fs, "/opt/rec/.env.temp9")
	testutil.AssertExists(t, fs, "/opt/rec/.env.stream1")
}

func TestRemoveTempFiles_KeepEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{"/opt/rec/.env": "A=0"})
	c := newTestCleaner(fs, nil, &fakeKiller{}, Options{BaseDir: "/opt/rec", EnvTempFiles: 6})

	removed, _ := c.RemoveTempFiles()
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	testutil.AssertExists(t, fs, "/opt/rec/.env")
}

func TestLogReport(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/opt/rec/rtsp_stream1.log": "12345",
		"/opt/rec/rtsp_stream3.log": "",
		"/opt/rec/rtsp_stream9.log": "ignored",
	})
	c := newTestCleaner(fs, nil, &fakeKiller{}, Options{
		BaseDir:      "/opt/rec",
		NumStreams:   6,
		StreamPrefix: "rtsp_stream",
	})

	got := c.LogReport()
	want := []LogFile{{Name: "rtsp_stream1.log", Size: 5}, {Name: "rtsp_stream3.log", Size: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LogReport() = %v, want %v", got, want)
	}
	testutil.AssertExists(t, fs, "/opt/rec/rtsp_stream1.log")
}

func TestRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{
		"/opt/rec/.env.temp2":       "A=2",
		"/opt/rec/rtsp_stream2.log": "log",
	})
	sessions := &fakeSessions{result: true}
	killer := &fakeKiller{report: terminate.Report{Stopped: true}}
	c := newTestCleaner(fs, sessions, killer, Options{
		BaseDir:          "/opt/rec",
		FileMoverName:    "rtsp_file_mover",
		StopFileMover:    true,
		MediaServerMatch: "mediamtx",
		DaemonMatch:      "run_daemon.py",
		EnvTempFiles:     6,
		NumStreams:       6,
		StreamPrefix:     "rtsp_stream",
	})

	report := c.Run(context.Background())
	if !report.FileMoverStopped || !reflect.DeepEqual(sessions.stopped, []string{"rtsp_file_mover"}) {
		t.Errorf("file mover: stopped = %v, calls = %v", report.FileMoverStopped, sessions.stopped)
	}
	if !report.MediaServerStopped || len(report.MediaServerPIDs) != 2 {
		t.Errorf("media server = %v %v", report.MediaServerStopped, report.MediaServerPIDs)
	}
	if !reflect.DeepEqual(report.DaemonPIDs, []int{1300}) {
		t.Errorf("daemon pids = %v", report.DaemonPIDs)
	}
	if report.TempFilesRemoved != 1 {
		t.Errorf("TempFilesRemoved = %d, want 1", report.TempFilesRemoved)
	}
	if len(report.Logs) != 1 {
		t.Errorf("Logs = %v", report.Logs)
	}
}

func TestRun_CanceledSkipsProcessSteps(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFiles(t, fs, map[string]string{"/opt/rec/.env.temp1": "A=1"})
	killer := &fakeKiller{}
	c := newTestCleaner(fs, nil, killer, Options{
		BaseDir:          "/opt/rec",
		MediaServerMatch: "mediamtx",
		DaemonMatch:      "run_daemon.py",
		EnvTempFiles:     1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := c.Run(ctx)
	if len(killer.terminated) != 0 || len(killer.signaled) != 0 {
		t.Error("process steps should be skipped after cancellation")
	}
	if report.TempFilesRemoved != 1 {
		t.Errorf("TempFilesRemoved = %d, want 1", report.TempFilesRemoved)
	}
}
