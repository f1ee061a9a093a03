// Package logx is a thin structured-logging facade over zerolog.
//
// It exposes a value-type Logger with functional Field helpers so that
// services can carry scoped loggers without importing zerolog directly.
package logx
