// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolprovider

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// buildTransport instantiates the MCP transport for one provider spec:
// a stdio child process for TransportChildProcess, a streamable-HTTP
// client for TransportRemoteHTTP.
func buildTransport(spec datatypes.ToolProviderSpec) (mcp.Transport, error) {
	switch spec.Transport {
	case datatypes.TransportChildProcess:
		if spec.Command == "" {
			return nil, fmt.Errorf("toolprovider: %q: child_process spec missing command", spec.Name)
		}
		cmd := exec.Command(spec.Command, spec.Args...)
		if spec.WorkingDir != "" {
			cmd.Dir = spec.WorkingDir
		}
		if len(spec.Env) > 0 {
			env := os.Environ()
			for k, v := range spec.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case datatypes.TransportRemoteHTTP:
		if spec.URL == "" {
			return nil, fmt.Errorf("toolprovider: %q: remote_http spec missing url", spec.Name)
		}
		return &mcp.StreamableClientTransport{Endpoint: spec.URL}, nil
	default:
		return nil, fmt.Errorf("toolprovider: %q: unknown transport kind %q", spec.Name, spec.Transport)
	}
}
