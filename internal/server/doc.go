// Package server implements the transport surfaces: the UDP streaming
// listener and the HTTP request/monitoring API.
package server
