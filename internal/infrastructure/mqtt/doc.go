// Package mqtt provides MQTT client connectivity for Warden Core.
//
// Warden publishes security events (logins, lockouts, role changes) to the
// building's MQTT bus so door stations, indoor monitors and alarm panels can
// react, and listens for device status reports from the same bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topic Layout
//
// Every topic starts with the configured prefix (default "warden") followed
// by the tenant:
//
//	warden/{tenant}/security/{kind}         security events (not retained)
//	warden/{tenant}/device/{id}/status      device status reports (inbound)
//	warden/system/status                    core online/offline (retained, LWT)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Event payloads never carry passwords, hashes or tokens
//   - Broker ACLs should restrict each panel to its own tenant subtree
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().SecurityEvent("t1", "account.locked")
//	err = client.PublishJSON(topic, event, 1, false)
package mqtt
