// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability bootstraps the process-wide logger and the
// Prometheus metrics registry.
//
// # Description
//
// This package owns the gateway's ambient instrumentation: structured
// logging via Go's standard slog package and Prometheus instruments
// exposed on /metrics. Every other package receives a *slog.Logger at
// construction; none of them configures output destinations itself.
//
// Output follows Unix conventions: logs go to stderr so the serving
// port's stdout stays clean. The default handler emits JSON for
// machine ingestion; --debug switches to a human-readable text
// handler at debug level.
//
// # Thread Safety
//
// slog.Logger and all Prometheus instruments are safe for concurrent
// use; this package adds no shared mutable state of its own.
package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the single process-wide logger.
//
// # Description
//
// Constructs a JSON-handler logger to stderr at info level, or a text
// handler at debug level when debug is true. Callers install it
// process-wide via slog.SetDefault.
//
// # Inputs
//
//   - debug: true switches to the human-readable text handler and
//     lowers the minimum level to Debug.
//
// # Outputs
//
//   - *slog.Logger: Configured logger ready for slog.SetDefault.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if debug {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
