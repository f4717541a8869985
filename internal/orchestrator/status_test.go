package orchestrator

import (
	"context"
	"testing"

	"github.com/Iron-Ham/streamstop/internal/devices"
	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/proctree"
	"github.com/Iron-Ham/streamstop/internal/screen"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/target"
)

type dirListing map[string][]string

func (d dirListing) list(dir string) ([]string, error) {
	names, ok := d[dir]
	if !ok {
		return nil, errors.NewFileError(dir, errors.ErrPathUnavailable)
	}
	return names, nil
}

type pendingFake struct{ dirListing }

func (p pendingFake) Pending(dir string) ([]string, error) { return p.list(dir) }

type sweepableFake struct{ dirListing }

func (s sweepableFake) Sweepable(dir string) ([]string, error) { return s.list(dir) }

type cameraFake map[int]string

func (c cameraFake) Camera(n int) (devices.Camera, bool) {
	name, ok := c[n]
	return devices.Camera{Name: name}, ok
}

type perStreamConfigs map[int]string

func (p perStreamConfigs) All(n int) []stream.Config {
	var cfgs []stream.Config
	for i := 1; i <= n; i++ {
		cfgs = append(cfgs, stream.Config{StreamID: i, TempDir: p[i]})
	}
	return cfgs
}

func TestInspect(t *testing.T) {
	sessions := &fakeSessions{before: []screen.Session{
		streamSession(1, 50214),
		streamSession(9, 70000),
		{Name: screen.DefaultFileMoverName, PID: 40000, Kind: screen.KindFileMover},
	}}
	tree := proctree.NewTree([]proctree.Node{
		{PID: 50214, PPID: 1, Command: "SCREEN -dmS rtsp_stream1"},
		{PID: 50215, PPID: 50214, Command: "bash -c ./start.sh 1"},
		{PID: 50301, PPID: 50215, Command: "python3 run.py --stream 1"},
		{PID: 70000, PPID: 1, Command: "SCREEN -dmS rtsp_stream9"},
		{PID: 70001, PPID: 70000, Command: "python3 run.py --stream 9"},
	})

	insp := NewInspector(InspectDeps{
		Sessions: sessions,
		Snapshot: staticTree{tree: tree},
		Selector: target.NewSelector(nil, target.Options{}, nil),
		Streams:  perStreamConfigs{1: "/rec/1", 2: "/rec/2"},
		Pending: pendingFake{dirListing{
			"/rec/1": {"temp_cam1_250131_235901.mp4"},
		}},
		Sweepable: sweepableFake{dirListing{
			"/rec/1": {"cam1_250131_225901.mp4"},
		}},
		Cameras: cameraFake{1: "bow"},
	}, nil)

	st := insp.Inspect(context.Background(), 2)

	if st.Counts.Streams != 2 || st.Counts.Mover != 1 || st.Counts.Total != 3 {
		t.Errorf("Counts = %+v", st.Counts)
	}
	if len(st.Streams) != 2 {
		t.Fatalf("len(Streams) = %d, want 2", len(st.Streams))
	}

	one := st.Streams[0]
	if one.Camera != "bow" || one.Session != "rtsp_stream1" {
		t.Errorf("stream 1 = %+v", one)
	}
	if one.Target == nil || one.Target.PID != 50301 {
		t.Errorf("stream 1 target = %+v, want 50301", one.Target)
	}
	if len(one.Pending) != 1 || len(one.Sweepable) != 1 || one.DirError != "" {
		t.Errorf("stream 1 files = %+v", one)
	}

	two := st.Streams[1]
	if two.Session != "" || two.Target != nil {
		t.Errorf("stream 2 has no session: %+v", two)
	}
	if two.DirError == "" {
		t.Error("stream 2 temp dir is missing, DirError should be set")
	}
	if two.Camera != "" {
		t.Errorf("stream 2 camera = %q, want none", two.Camera)
	}

	if len(st.Extra) != 1 || st.Extra[0].StreamID != 9 || st.Extra[0].Target == nil || st.Extra[0].Target.PID != 70001 {
		t.Errorf("Extra = %+v", st.Extra)
	}
}

func TestInspect_NoCameras(t *testing.T) {
	insp := NewInspector(InspectDeps{
		Sessions:  &fakeSessions{},
		Snapshot:  staticTree{tree: proctree.NewTree(nil)},
		Selector:  target.NewSelector(nil, target.Options{}, nil),
		Streams:   perStreamConfigs{1: "/rec/1"},
		Pending:   pendingFake{dirListing{"/rec/1": nil}},
		Sweepable: sweepableFake{dirListing{"/rec/1": nil}},
	}, nil)

	st := insp.Inspect(context.Background(), 1)

	if st.Counts.Total != 0 || len(st.Streams) != 1 || len(st.Extra) != 0 {
		t.Errorf("Status = %+v", st)
	}
	if st.Streams[0].Camera != "" {
		t.Errorf("Camera = %q", st.Streams[0].Camera)
	}
}
