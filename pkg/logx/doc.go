// Package logx is schedq's logging layer on top of zerolog.
//
// Components take a Logger by value and derive their own with With(...).
// Service owns the sinks (a readable console writer and an optional JSON file)
// and can swap them at runtime, which is how config hot reload changes the
// level or moves the log file without touching any component.
package logx
