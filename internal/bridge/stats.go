package bridge

import (
	"sync"
	"time"
)

type ErrorInfo struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// DeviceStats is a point-in-time view of one attached reader.
type DeviceStats struct {
	DeviceID    string     `json:"device_id"`
	Label       string     `json:"label"`
	ConnectedAt time.Time  `json:"connected_at"`
	Scans       int        `json:"scans"`
	Errors      int        `json:"errors"`
	LastScan    *time.Time `json:"last_scan,omitempty"`
	LastError   *ErrorInfo `json:"last_error,omitempty"`
	CurrentUID  string     `json:"current_uid,omitempty"`
}

type deviceStats struct {
	mu sync.Mutex
	s  DeviceStats
}

func (d *deviceStats) scan(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s.Scans++
	d.s.LastScan = &at
}

func (d *deviceStats) fail(err error, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s.Errors++
	d.s.LastError = &ErrorInfo{Message: err.Error(), At: at}
}

func (d *deviceStats) snapshot() DeviceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.s
	if d.s.LastScan != nil {
		t := *d.s.LastScan
		out.LastScan = &t
	}
	if d.s.LastError != nil {
		e := *d.s.LastError
		out.LastError = &e
	}
	return out
}
