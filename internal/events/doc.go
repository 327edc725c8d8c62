// Package events delivers security events from the auth core to the audit
// trail and to live consumers.
//
// Publish never blocks the request path: events go onto a bounded queue
// that a single goroutine drains, handing each event to every Sink in
// order. When the queue is full the event is dropped and a warning logged.
//
//	bus := events.NewBus(256, logger,
//	    events.NewAuditSink(auditRepo),
//	    events.NewMetricsSink(m),
//	)
//	go bus.Run(ctx)
//	svc := auth.NewService(auth.Deps{Events: bus, ...}, cfg)
package events
