// Package logx is a thin facade over zerolog.
//
// It exists so components can hold a Logger value that stays live across
// runtime config changes (Service.Apply swaps sinks/levels atomically),
// and so call sites use a small, stable field API instead of zerolog's
// builder directly.
package logx
