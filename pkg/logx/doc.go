// Package logx is a thin structured logging layer over zerolog.
//
// It exposes a small Logger value type plus a Service that can swap sinks
// (console, file, chat room) at runtime without invalidating loggers that
// were created earlier.
package logx
