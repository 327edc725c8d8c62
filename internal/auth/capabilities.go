package auth

// Feature names a tenant-level switch.
type Feature string

// Tenant features. A feature absent from the settings map is enabled.
const (
	FeatureUserManagement   Feature = "user_management"
	FeatureDeviceManagement Feature = "device_management"
	FeatureIntercom         Feature = "intercom"
	FeatureAlarmSystem      Feature = "alarm_system"
	FeatureReports          Feature = "reports"
)

// AllFeatures lists every known feature.
var AllFeatures = []Feature{
	FeatureUserManagement,
	FeatureDeviceManagement,
	FeatureIntercom,
	FeatureAlarmSystem,
	FeatureReports,
}

// Capabilities is the enabled-feature set of one tenant.
type Capabilities map[Feature]bool

// CapabilitiesFor builds the feature set from tenant settings. Unknown keys
// in the settings are ignored.
func CapabilitiesFor(t *Tenant) Capabilities {
	caps := make(Capabilities, len(AllFeatures))
	for _, f := range AllFeatures {
		enabled, set := t.Settings.Features[string(f)]
		caps[f] = !set || enabled
	}
	return caps
}

// Has reports whether f is enabled.
func (c Capabilities) Has(f Feature) bool {
	return c[f]
}

// Require returns an *AuthorizationError when f is disabled.
func (c Capabilities) Require(f Feature) error {
	if !c.Has(f) {
		return &AuthorizationError{Reason: ReasonFeatureDisabled, Requirement: string(f)}
	}
	return nil
}
