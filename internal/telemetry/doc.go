// Package telemetry holds the domain records produced from device reports:
// per-module readings and the relay state changes they carry.
package telemetry
