// Package devices holds the camera registry that maps stream numbers to the
// vessel's camera devices.
//
// The registry is loaded at most once per value. Callers decide when to
// Load; lookups never touch the network.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
)

// DefaultViewOrder is used for devices that do not report one.
const DefaultViewOrder = 999

// State is the load state of a Registry.
type State int

const (
	NotLoaded State = iota
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// Camera is one camera device.
type Camera struct {
	Name       string `json:"name" yaml:"name"`
	Key        string `json:"key" yaml:"key"`
	ViewOrder  int    `json:"view_order" yaml:"view_order"`
	VesselID   *int   `json:"vessel_id,omitempty" yaml:"vessel_id,omitempty"`
	VesselName string `json:"vessel_name,omitempty" yaml:"vessel_name,omitempty"`
}

type devicePayload struct {
	DeviceName string `json:"deviceName"`
	DeviceKey  string `json:"deviceKey"`
	ViewOrder  *int   `json:"viewOrder"`
	VesselID   *int   `json:"vesselId"`
	VesselName string `json:"vesselName"`
}

type devicesResponse struct {
	Payload json.RawMessage `json:"payload"`
}

// Options configures a Registry.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Attempts bounds the fetch retries within one Load. Zero means 3.
	Attempts int
}

// Registry is a lazily loaded, explicitly owned camera list.
type Registry struct {
	client  *http.Client
	opts    Options
	logger  *logging.Logger
	backoff func() backoff.BackOff

	mu      sync.Mutex
	state   State
	cameras []Camera
	err     error
}

// NewRegistry creates an unloaded Registry. A nil client uses one with
// opts.Timeout.
func NewRegistry(client *http.Client, opts Options, logger *logging.Logger) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Registry{
		client: client,
		opts:   opts,
		logger: logger,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// State returns the current load state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the load failure, if any.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Load fetches the camera list once. Later calls return the first outcome
// without network I/O.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != NotLoaded {
		return r.err
	}
	if r.opts.BaseURL == "" {
		r.state = Failed
		r.err = errors.NewValidationError("api.base_url", "", "camera API is not configured")
		return r.err
	}

	url := r.opts.BaseURL + "/api/devices?deviceType=CAMERA"
	r.logger.Info("loading camera devices", "url", url)

	var cameras []Camera
	op := func() error {
		var err error
		cameras, err = r.fetch(ctx, url)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), uint64(r.opts.Attempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("camera device request failed, retrying", "error", err, "wait", wait.String())
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		r.state = Failed
		r.err = fmt.Errorf("load camera devices: %w", err)
		r.logger.Error("camera devices unavailable", "error", err)
		return r.err
	}

	r.state = Loaded
	r.cameras = cameras
	r.logger.Info("camera devices loaded", "count", len(cameras))
	for i, c := range cameras {
		r.logger.Debug("camera", "index", i+1, "name", c.Name, "key", c.Key, "view_order", c.ViewOrder, "vessel", c.VesselName)
	}
	return nil
}

func (r *Registry) fetch(ctx context.Context, url string) ([]Camera, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	cameras, err := Decode(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return cameras, nil
}

// Decode parses a device listing response. Devices missing a name or key are
// dropped; the rest are ordered by view order, ties keeping response order.
func Decode(body []byte) ([]Camera, error) {
	var resp devicesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode device response: %w", err)
	}
	var payload []devicePayload
	if len(resp.Payload) > 0 && string(resp.Payload) != "null" {
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return nil, fmt.Errorf("device payload is not a list: %w", err)
		}
	}

	cameras := make([]Camera, 0, len(payload))
	for _, d := range payload {
		if d.DeviceName == "" || d.DeviceKey == "" {
			continue
		}
		order := DefaultViewOrder
		if d.ViewOrder != nil {
			order = *d.ViewOrder
		}
		cameras = append(cameras, Camera{
			Name:       d.DeviceName,
			Key:        d.DeviceKey,
			ViewOrder:  order,
			VesselID:   d.VesselID,
			VesselName: d.VesselName,
		})
	}
	sort.SliceStable(cameras, func(i, j int) bool { return cameras[i].ViewOrder < cameras[j].ViewOrder })
	return cameras, nil
}

// Camera returns the device for 1-based stream n. Streams past the end of
// the list map to the last camera. It reports false when the registry is
// not loaded or empty.
func (r *Registry) Camera(n int) (Camera, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Loaded || len(r.cameras) == 0 || n < 1 {
		return Camera{}, false
	}
	if n > len(r.cameras) {
		return r.cameras[len(r.cameras)-1], true
	}
	return r.cameras[n-1], true
}

// Cameras returns a copy of the loaded list.
func (r *Registry) Cameras() []Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Camera(nil), r.cameras...)
}
