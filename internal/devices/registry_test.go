package devices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

const listing = `{"payload": [
	{"deviceName": "stern", "deviceKey": "k3", "viewOrder": 3, "vesselId": 7, "vesselName": "Haeyang"},
	{"deviceName": "bow", "deviceKey": "k1", "viewOrder": 1, "vesselId": 7, "vesselName": "Haeyang"},
	{"deviceName": "", "deviceKey": "k9", "viewOrder": 0},
	{"deviceName": "deck", "deviceKey": "k2"},
	{"deviceName": "port", "deviceKey": "k4", "viewOrder": 2}
]}`

func newTestRegistry(t *testing.T, handler http.HandlerFunc) (*Registry, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		if req.URL.Path != "/api/devices" || req.URL.Query().Get("deviceType") != "CAMERA" {
			t.Errorf("unexpected request %s", req.URL)
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry(srv.Client(), Options{BaseURL: srv.URL + "/"}, nil)
	r.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r, &hits
}

func TestDecode(t *testing.T) {
	cameras, err := Decode([]byte(listing))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []string{"bow", "port", "stern", "deck"}
	if len(cameras) != len(want) {
		t.Fatalf("got %d cameras, want %d", len(cameras), len(want))
	}
	for i, name := range want {
		if cameras[i].Name != name {
			t.Errorf("camera %d = %q, want %q", i, cameras[i].Name, name)
		}
	}
	if cameras[3].ViewOrder != DefaultViewOrder {
		t.Errorf("missing viewOrder = %d, want %d", cameras[3].ViewOrder, DefaultViewOrder)
	}
	if cameras[0].VesselID == nil || *cameras[0].VesselID != 7 {
		t.Errorf("VesselID = %v", cameras[0].VesselID)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantLen int
	}{
		{"not json", "<html>", true, 0},
		{"payload is object", `{"payload": {"deviceName": "x"}}`, true, 0},
		{"payload missing", `{}`, false, 0},
		{"payload null", `{"payload": null}`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestRegistry_LoadOnce(t *testing.T) {
	r, hits := newTestRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(listing))
	})

	if r.State() != NotLoaded {
		t.Fatalf("initial state = %v", r.State())
	}
	if _, ok := r.Camera(1); ok {
		t.Error("Camera should report false before Load")
	}

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if r.State() != Loaded {
		t.Errorf("state = %v, want loaded", r.State())
	}

	tests := []struct {
		stream int
		want   string
		ok     bool
	}{
		{1, "bow", true},
		{2, "port", true},
		{4, "deck", true},
		{6, "deck", true},
		{0, "", false},
	}
	for _, tt := range tests {
		cam, ok := r.Camera(tt.stream)
		if ok != tt.ok || cam.Name != tt.want {
			t.Errorf("Camera(%d) = %q, %v; want %q, %v", tt.stream, cam.Name, ok, tt.want, tt.ok)
		}
	}
	if len(r.Cameras()) != 4 {
		t.Errorf("Cameras() len = %d", len(r.Cameras()))
	}
}

func TestRegistry_RetriesServerErrors(t *testing.T) {
	var calls int32
	r, _ := newTestRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(listing))
	})

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRegistry_FailureIsSticky(t *testing.T) {
	r, hits := newTestRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.State() != Failed || r.Err() == nil {
		t.Errorf("state = %v, err = %v", r.State(), r.Err())
	}
	if err := r.Load(context.Background()); err == nil {
		t.Error("second Load should return the first failure")
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("requests = %d, want 1 (client errors are not retried)", got)
	}
	if _, ok := r.Camera(1); ok {
		t.Error("Camera should report false after a failed load")
	}
}

func TestRegistry_NotConfigured(t *testing.T) {
	r := NewRegistry(nil, Options{}, nil)
	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected error without base URL")
	}
	if r.State() != Failed {
		t.Errorf("state = %v, want failed", r.State())
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{NotLoaded: "not_loaded", Loaded: "loaded", Failed: "failed"} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
