// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Ollama is running")
}

func (s *Server) handleRootHead(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.VersionResponse{Version: s.version})
}

func (s *Server) handleTags(c *gin.Context) {
	infos := s.lifecycle.GetAllModelInfo(allowedModels(c))
	entries := make([]datatypes.TagEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, datatypes.TagEntry{Name: info.Name})
	}
	c.JSON(http.StatusOK, datatypes.TagsResponse{Models: entries})
}

func (s *Server) handlePs(c *gin.Context) {
	infos := s.lifecycle.GetRunningModelInfo(allowedModels(c))
	entries := make([]datatypes.PsEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, datatypes.PsEntry{Name: info.Name})
	}
	c.JSON(http.StatusOK, datatypes.PsResponse{Models: entries})
}

func (s *Server) handleShow(c *gin.Context) {
	var req datatypes.ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	name := req.ModelName()
	if name == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "name is required"})
		return
	}
	if !s.lifecycle.HasModel(name) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: fmt.Sprintf("model %q not found", name)})
		return
	}
	allowed := allowedModels(c)
	if !modelAllowed(allowed, name) {
		c.JSON(http.StatusForbidden, datatypes.ErrorResponse{Error: fmt.Sprintf("access to model %q is not allowed", name)})
		return
	}
	info, _ := s.lifecycle.GetModelDetails(name, allowed)
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleOpenAIModels(c *gin.Context) {
	infos := s.lifecycle.GetAllModelInfo(allowedModels(c))
	entries := make([]datatypes.OpenAIModelEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, datatypes.OpenAIModelEntry{
			ID:      info.Name,
			Object:  "model",
			OwnedBy: "library",
		})
	}
	c.JSON(http.StatusOK, datatypes.OpenAIModelsResponse{Object: "list", Data: entries})
}

// checkModel applies the model-exists then model-allowed validation
// steps, writing the error response itself. Returns false if the
// request was rejected.
func (s *Server) checkModel(c *gin.Context, name string) bool {
	if name == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "model is required"})
		return false
	}
	if !s.lifecycle.HasModel(name) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: fmt.Sprintf("model %q not found", name)})
		return false
	}
	if !modelAllowed(allowedModels(c), name) {
		c.JSON(http.StatusForbidden, datatypes.ErrorResponse{Error: fmt.Sprintf("access to model %q is not allowed", name)})
		return false
	}
	return true
}
