// Package httpmw holds the net/http middleware of the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers
// from the active helmet policy, recover, request id, client ip, rate
// limiting, tracing, metrics and logging, then the chi router. Query strings
// and user agents are kept out of logs.
package httpmw
