// Package device keeps the tenant-scoped registry of building security
// devices: door stations, indoor monitors, cameras, alarm panels and
// access readers.
//
// Devices are the resource the authorization layer guards: every read and
// write names a tenant, and a device is invisible outside its own tenant
// (a foreign ID behaves exactly like a missing one).
//
// Status is reported by the devices themselves over MQTT on
// {prefix}/{tenant}/device/{id}/status; see StatusHandler.
package device
