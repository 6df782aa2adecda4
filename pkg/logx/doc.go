// Package logx configures clubbot's structured logging.
//
// Logger wraps zerolog. Console output is human readable with a short caller,
// file output is JSON, and an optional chat sink forwards WARN+ records to an
// ops channel through the notifier, rate limited. Records tagged with Guild
// lead with the tenant id in chat.
package logx
