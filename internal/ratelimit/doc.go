// Package ratelimit provides an in-process sliding-window request limiter.
//
// Each key (normally the client address) keeps the timestamps of its
// admitted requests. A request is admitted while fewer than Limit
// timestamps fall inside the trailing Window. State is per process; several
// replicas behind a load balancer each enforce their own window.
package ratelimit
