// Package middleware adapts a shopGuard.Gate to net/http.
//
// A typical storefront chain, outermost first:
//
//	ResolveClientIP(gate)
//	RateLimit(gate, gate.APIPolicy(), KeyByClientIP)
//	Authenticate(gate)
//	RiskGate(gate)                 // checkout, payment, account changes
//	CSRF(gate, SessionBySubject)   // state-changing routes
//
// Every rejection is a small JSON body with a generic message. The reason is
// logged through the gate's logger and never sent to the client.
package middleware
