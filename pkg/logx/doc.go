// Package logx is a thin wrapper around zerolog used by every streamwatch
// component. It keeps call sites decoupled from the concrete logging backend
// and gives the whole binary one console/file sink configuration.
package logx
