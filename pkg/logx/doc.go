// Package logx provides a small structured logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a stable API while
// sinks and levels are reconfigured at runtime (config hot reload).
package logx
