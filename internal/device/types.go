package device

import (
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

// Kind classifies a device.
type Kind string

// Device kinds.
const (
	KindDoorStation   Kind = "door_station"
	KindIndoorMonitor Kind = "indoor_monitor"
	KindCamera        Kind = "camera"
	KindAlarmPanel    Kind = "alarm_panel"
	KindAccessReader  Kind = "access_reader"
)

// AllKinds returns every valid kind.
func AllKinds() []Kind {
	return []Kind{KindDoorStation, KindIndoorMonitor, KindCamera, KindAlarmPanel, KindAccessReader}
}

// Status is the last reported operational state.
type Status string

// Device statuses.
const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusFault   Status = "fault"
)

// AllStatuses returns every valid status.
func AllStatuses() []Status {
	return []Status{StatusUnknown, StatusOnline, StatusOffline, StatusFault}
}

// Device is one registered piece of building security hardware.
type Device struct {
	ID string `json:"id"`
	auth.TenantScope
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Location string `json:"location,omitempty"`
	Status   Status `json:"status"`
	auth.Timestamps
	auth.SoftDelete
	auth.AuditFields
}

// DeepCopy returns a copy that shares no pointers with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.DeletedAt != nil {
		at := *d.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}

// StatusReport is the JSON payload devices publish on their status topic.
type StatusReport struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}
