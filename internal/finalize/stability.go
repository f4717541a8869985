package finalize

import (
	"time"

	"github.com/spf13/afero"
)

// Stability defaults.
const (
	DefaultRequiredSamples = 3
	DefaultMaxSamples      = 15
	DefaultSampleInterval  = time.Second
)

// Observation is one size sample of a file.
type Observation struct {
	Size   int64
	Exists bool
}

// Verdict is the state of a stability check after an observation.
type Verdict int

const (
	// Pending means more samples are needed.
	Pending Verdict = iota
	// Stable means the size held for the required number of samples.
	Stable
	// Vanished means the file disappeared.
	Vanished
	// Exhausted means the sample budget ran out first.
	Exhausted
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case Stable:
		return "stable"
	case Vanished:
		return "vanished"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Tracker is the stability state machine. The first sample, and any sample
// whose size differs from the baseline, sets a new baseline; run counts the
// unchanged samples seen since then.
type Tracker struct {
	required int
	max      int

	samples int
	seeded  bool
	run     int
	last    int64
	verdict Verdict
}

// NewTracker creates a Tracker that is Stable once required consecutive
// samples repeat the baseline size and Exhausted after max samples.
// Non-positive arguments take the defaults; max is raised to required+1
// if smaller, since the baseline sample never counts.
func NewTracker(required, max int) *Tracker {
	if required <= 0 {
		required = DefaultRequiredSamples
	}
	if max <= 0 {
		max = DefaultMaxSamples
	}
	if max <= required {
		max = required + 1
	}
	return &Tracker{required: required, max: max}
}

// Observe feeds one sample. Once a final verdict is reached further
// observations are ignored.
func (t *Tracker) Observe(o Observation) Verdict {
	if t.verdict != Pending {
		return t.verdict
	}
	t.samples++

	switch {
	case !o.Exists:
		t.verdict = Vanished
		return t.verdict
	case t.seeded && o.Size == t.last:
		t.run++
	default:
		t.seeded = true
		t.run = 0
		t.last = o.Size
	}

	if t.run >= t.required {
		t.verdict = Stable
	} else if t.samples >= t.max {
		t.verdict = Exhausted
	}
	return t.verdict
}

// Samples returns how many observations were consumed.
func (t *Tracker) Samples() int {
	return t.samples
}

// Evaluate runs a Tracker over a fixed sequence and returns the verdict and
// the number of samples consumed. A sequence that ends before a verdict is
// reported as Pending.
func Evaluate(obs []Observation, required, max int) (Verdict, int) {
	t := NewTracker(required, max)
	for _, o := range obs {
		if v := t.Observe(o); v != Pending {
			return v, t.Samples()
		}
	}
	return Pending, t.Samples()
}

// Sampler drives a Tracker against a real file at a fixed interval.
type Sampler struct {
	fs       afero.Fs
	interval time.Duration
	sleep    func(time.Duration)
}

// NewSampler creates a Sampler. A non-positive interval uses the default.
func NewSampler(fs afero.Fs, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{fs: fs, interval: interval, sleep: time.Sleep}
}

// IsStable samples path until its size repeats for required samples after
// the first (true), or it vanishes or max samples pass (false).
func (s *Sampler) IsStable(path string, required, max int) bool {
	v, _ := s.Check(path, required, max)
	return v == Stable
}

// Check is IsStable with the final verdict and sample count.
func (s *Sampler) Check(path string, required, max int) (Verdict, int) {
	t := NewTracker(required, max)
	for {
		var o Observation
		if info, err := s.fs.Stat(path); err == nil {
			o = Observation{Size: info.Size(), Exists: true}
		}
		if v := t.Observe(o); v != Pending {
			return v, t.Samples()
		}
		s.sleep(s.interval)
	}
}
