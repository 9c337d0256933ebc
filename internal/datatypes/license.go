// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared data model for the serving gateway:
// model configuration, tool-provider specs, tool descriptors, tool calls
// and their results, model info, access tokens, and the wire-format request
// and response envelopes for both HTTP dialects the gateway exposes.
// Loaded-model records live in package lifecycle and pending requests in
// package scheduler.
package datatypes
