// Package logx configures routinebot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp, short caller) and file output JSON-structured.
// Loggers derived from a Service follow Service.Apply, so the level and
// sinks can be changed while the bot runs.
package logx
