// Package recognition defines the speech recognition engine interface and
// its mock and model-backed implementations.
package recognition
