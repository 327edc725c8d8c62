package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "warden"

// Topics builds Warden topic names under a fixed prefix.
//
//	t := mqtt.NewTopics("warden")
//	t.SecurityEvent("t1", "account.locked") // warden/t1/security/account.locked
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SecurityEvent returns the topic for one security event kind in a tenant.
func (t Topics) SecurityEvent(tenantID, kind string) string {
	return t.Prefix() + "/" + segment(tenantID) + "/security/" + segment(kind)
}

// TenantSecurityEvents matches every security event for one tenant.
func (t Topics) TenantSecurityEvents(tenantID string) string {
	return t.Prefix() + "/" + segment(tenantID) + "/security/#"
}

// AllSecurityEvents matches security events across tenants.
func (t Topics) AllSecurityEvents() string {
	return t.Prefix() + "/+/security/#"
}

// DeviceStatus returns the topic a device reports its status on.
func (t Topics) DeviceStatus(tenantID, deviceID string) string {
	return t.Prefix() + "/" + segment(tenantID) + "/device/" + segment(deviceID) + "/status"
}

// AllDeviceStatus matches status reports from every device in every tenant.
func (t Topics) AllDeviceStatus() string {
	return t.Prefix() + "/+/device/+/status"
}

// SystemStatus is the retained online/offline topic (also the LWT).
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// ParseDeviceStatus extracts tenant and device IDs from a DeviceStatus topic.
func (t Topics) ParseDeviceStatus(topic string) (tenantID, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "device" || parts[3] != "status" {
		return "", "", false
	}
	if parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// segmentReplacer neutralises characters that would change topic structure.
var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func segment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}
