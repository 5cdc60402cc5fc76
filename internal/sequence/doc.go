// Package sequence implements the per-session chunk reordering buffer:
// out-of-order buffering, fingerprint deduplication, and gap-free release.
package sequence
