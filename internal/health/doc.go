// Package health provides composable probes and the HTTP handlers that
// expose them as liveness and readiness endpoints.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static);
// [CheckFunc] adapts a function and [Named] prefixes failure reasons.
// [ShutdownGate] fails readiness while the server drains so load balancers
// stop routing to it before listeners close.
package health
