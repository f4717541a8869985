package orchestrator

import (
	"context"
	"sort"

	"github.com/Iron-Ham/streamstop/internal/devices"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/screen"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/target"
)

// PendingLister lists in-progress files awaiting finalization.
type PendingLister interface {
	Pending(dir string) ([]string, error)
}

// SweepableLister lists finished files awaiting relocation.
type SweepableLister interface {
	Sweepable(dir string) ([]string, error)
}

// CameraLookup maps a stream number to its camera.
type CameraLookup interface {
	Camera(n int) (devices.Camera, bool)
}

// StreamStatus is the dry-run view of one stream.
type StreamStatus struct {
	StreamID  int               `json:"stream_id" yaml:"stream_id"`
	Camera    string            `json:"camera,omitempty" yaml:"camera,omitempty"`
	Config    stream.Config     `json:"config" yaml:"config"`
	Session   string            `json:"session,omitempty" yaml:"session,omitempty"`
	Attached  bool              `json:"attached,omitempty" yaml:"attached,omitempty"`
	Target    *target.Candidate `json:"target,omitempty" yaml:"target,omitempty"`
	Pending   []string          `json:"pending,omitempty" yaml:"pending,omitempty"`
	Sweepable []string          `json:"sweepable,omitempty" yaml:"sweepable,omitempty"`
	// DirError is set when the temp directory could not be read.
	DirError string `json:"dir_error,omitempty" yaml:"dir_error,omitempty"`
}

// Status is a read-only snapshot of what a shutdown would act on.
type Status struct {
	Counts   screen.Counts    `json:"counts" yaml:"counts"`
	Sessions []screen.Session `json:"sessions" yaml:"sessions"`
	Streams  []StreamStatus   `json:"streams" yaml:"streams"`
	// Extra lists stream sessions whose number is outside 1..N.
	Extra []StreamStatus `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// InspectDeps are the read-only collaborators of an Inspector.
type InspectDeps struct {
	Sessions  SessionLister
	Snapshot  Snapshotter
	Selector  TargetSelector
	Streams   StreamConfigs
	Pending   PendingLister
	Sweepable SweepableLister
	// Cameras is optional.
	Cameras CameraLookup
}

// Inspector builds Status snapshots without changing anything.
type Inspector struct {
	deps   InspectDeps
	logger *logging.Logger
}

// NewInspector creates an Inspector.
func NewInspector(deps InspectDeps, logger *logging.Logger) *Inspector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Inspector{deps: deps, logger: logger}
}

// Inspect reports sessions, the process each stream session would target,
// and the files each stream's temp directory holds.
func (i *Inspector) Inspect(ctx context.Context, numStreams int) Status {
	sessions := i.deps.Sessions.List(ctx)
	st := Status{Counts: screen.Count(sessions), Sessions: sessions}

	bySession := make(map[int]screen.Session)
	var extra []screen.Session
	for _, sess := range sessions {
		if sess.Kind != screen.KindStream || sess.Dead {
			continue
		}
		if sess.StreamID >= 1 && sess.StreamID <= numStreams {
			bySession[sess.StreamID] = sess
		} else {
			extra = append(extra, sess)
		}
	}

	tree := i.deps.Snapshot.Build(ctx)
	withTarget := func(ss *StreamStatus, sess screen.Session) {
		ss.Session = sess.Name
		ss.Attached = sess.Attached
		if cand, ok := i.deps.Selector.SelectIn(tree, sess.PID); ok {
			ss.Target = &cand
		}
	}

	for _, cfg := range i.deps.Streams.All(numStreams) {
		ss := StreamStatus{StreamID: cfg.StreamID, Config: cfg}
		if i.deps.Cameras != nil {
			if cam, ok := i.deps.Cameras.Camera(cfg.StreamID); ok {
				ss.Camera = cam.Name
			}
		}
		if sess, ok := bySession[cfg.StreamID]; ok {
			withTarget(&ss, sess)
		}

		pending, err := i.deps.Pending.Pending(cfg.TempDir)
		if err != nil {
			ss.DirError = err.Error()
		}
		ss.Pending = pending
		if err == nil {
			ss.Sweepable, _ = i.deps.Sweepable.Sweepable(cfg.TempDir)
		}
		st.Streams = append(st.Streams, ss)
	}

	sort.Slice(extra, func(a, b int) bool { return extra[a].Name < extra[b].Name })
	for _, sess := range extra {
		ss := StreamStatus{StreamID: sess.StreamID}
		withTarget(&ss, sess)
		st.Extra = append(st.Extra, ss)
	}

	i.logger.Debug("status inspected", "sessions", st.Counts.Total, "streams", len(st.Streams))
	return st
}
