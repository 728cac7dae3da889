// Package snsctx carries transport flags through a context.
//
// Frame dumps: when enabled with WithFrameDump, every transport logs the raw
// bytes it exchanges with the hardware through DumpFrame, at debug level on the
// default logger. The i2c buses dump payloads per address, the MCP2221 adapter
// dumps whole 64-byte HID reports.
package snsctx

import (
	"context"
	"encoding/hex"
	"log/slog"
)

type flag int

const frameDump flag = iota

// WithFrameDump returns a context enabling or disabling frame dumps.
func WithFrameDump(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, frameDump, enabled)
}

// FrameDump reports whether frame dumps are enabled in ctx.
func FrameDump(ctx context.Context) bool {
	enabled, _ := ctx.Value(frameDump).(bool)
	return enabled
}

// shortFrame is the longest frame printed on a single line.
const shortFrame = 16

// DumpFrame logs frame under msg when frame dumps are enabled. Short frames
// are logged as one hex string, longer ones as a multi-line hex dump.
func DumpFrame(ctx context.Context, msg string, frame []byte, attrs ...any) {
	if !FrameDump(ctx) {
		return
	}
	if len(frame) <= shortFrame {
		attrs = append(attrs, "data", hex.EncodeToString(frame))
	} else {
		attrs = append(attrs, "dump", "\n"+hex.Dump(frame))
	}
	slog.DebugContext(ctx, msg, attrs...)
}
