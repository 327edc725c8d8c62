// Package influxdb records authentication telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//	auth_events   tags: tenant_id, kind, outcome   fields: count, reason
//	login_latency tags: tenant_id, outcome         fields: ms
//	rate_limited  tags: scope                      fields: count
//
// Account IDs and usernames are deliberately kept out of tags so series
// cardinality stays bounded by tenants and event kinds.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSecurityEvent("t1", "login.failed", "invalid_credentials", time.Now())
//
// Writes are batched according to batch_size and flush_interval; write
// failures arrive asynchronously through SetOnError.
package influxdb
