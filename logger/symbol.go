package logger

import (
	"go.uber.org/zap"
)

// Symbols attached to Pulse log lines as a structured field, not in the message.
const (
	SymbolPulse      = "꩜" // dispatch, sweep, execution
	SymbolPulseOpen  = "✿" // startup and recovery
	SymbolPulseClose = "❀" // shutdown and drain
	SymbolDB         = "⊔" // storage and migrations
)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolDB)
}
