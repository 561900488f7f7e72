// Package risk scores request metadata for fraud and automation signals.
//
// A Scorer adds fixed weights for each signal that fires and clamps the sum at
// 100:
//
//	geo unresolved          +25
//	high-risk country       +30  (never together with the above)
//	anonymizing relay       +50
//	browser not allow-listed +20
//	fingerprint missing/short +10
//	Accept-Language malformed +5
//
// Scoring reads only the Request and the Scorer's immutable tables, so a
// replayed request always scores the same. Decide maps a score onto
// Allow / Review / Challenge / Block.
//
// Geolocation is pluggable through GeoResolver; risk/geoip provides a
// MaxMind-backed resolver and StaticGeoResolver covers tests and fixed tables.
package risk
