// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the generation pipeline over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/testweaver/services/testgen"
	"github.com/AleutianAI/testweaver/services/testgen/diffrange"
	"github.com/AleutianAI/testweaver/services/testgen/pipeline"
)

// ServiceVersion is the testweaver API version.
const ServiceVersion = "0.1.0"

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// GenerateRequest is the body for POST /v1/testweaver/generate.
type GenerateRequest struct {
	// Diff is a unified diff covering the changed files.
	Diff string `json:"diff" binding:"required"`
}

// GeneratePRRequest is the body for POST /v1/testweaver/generate/pr.
type GeneratePRRequest struct {
	// PRNumber is the pull request to process.
	PRNumber int `json:"pr_number" binding:"required,gt=0"`
}

// GenerateResponse wraps a pipeline summary.
type GenerateResponse struct {
	Summary *pipeline.TestGenerationSummary `json:"summary"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body for GET /v1/testweaver/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// =============================================================================
// HANDLERS
// =============================================================================

// Handlers contains the HTTP handlers for testweaver.
type Handlers struct {
	svc *testgen.Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *testgen.Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleGenerate handles POST /v1/testweaver/generate.
//
// Description:
//
//	Runs the generation pipeline for a unified diff against the
//	configured project root.
//
// Response:
//
//	200 OK: GenerateResponse
//	400 Bad Request: Malformed body or diff
//	422 Unprocessable Entity: No testable targets
//	402 Payment Required: Provider quota exhausted, partial summary
//	502 Bad Gateway: Provider rejected the request, partial summary
//	500 Internal Server Error: Pipeline failure
func (h *Handlers) HandleGenerate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGenerate")

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	summary, err := h.svc.GenerateFromDiff(c.Request.Context(), req.Diff, nil)
	if err != nil {
		h.writeGenerationError(c, logger, summary, err)
		return
	}

	logger.Info("Generation complete",
		"targets", summary.TargetsProcessed,
		"generated", summary.TestsGenerated,
	)
	c.JSON(http.StatusOK, GenerateResponse{Summary: summary})
}

// HandleGeneratePR handles POST /v1/testweaver/generate/pr.
//
// Response:
//
//	200 OK: GenerateResponse
//	400 Bad Request: Malformed body
//	422 Unprocessable Entity: No testable targets
//	502 Bad Gateway: VCS failure or provider rejection
//	500 Internal Server Error: Pipeline failure
func (h *Handlers) HandleGeneratePR(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGeneratePR")

	var req GeneratePRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Processing pull request", "pr", req.PRNumber)

	summary, err := h.svc.GenerateFromPR(c.Request.Context(), req.PRNumber)
	if err != nil {
		h.writeGenerationError(c, logger, summary, err)
		return
	}
	c.JSON(http.StatusOK, GenerateResponse{Summary: summary})
}

// writeGenerationError maps pipeline errors onto response codes. A
// partial summary is included when the batch aborted midway.
func (h *Handlers) writeGenerationError(c *gin.Context, logger *slog.Logger, summary *pipeline.TestGenerationSummary, err error) {
	switch {
	case errors.Is(err, diffrange.ErrMalformedDiff):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "MALFORMED_DIFF",
		})
	case errors.Is(err, testgen.ErrNoTargets):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "No testable targets in the changed ranges",
			Code:  "NO_TARGETS",
		})
	case errors.Is(err, pipeline.ErrQuotaExhausted):
		logger.Error("Batch aborted on quota", "error", err)
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "Provider quota exhausted",
			"code":    "QUOTA_EXHAUSTED",
			"summary": summary,
		})
	case errors.Is(err, pipeline.ErrProviderRejected):
		logger.Error("Batch aborted on provider rejection", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Provider rejected the request",
			"code":    "PROVIDER_REJECTED",
			"summary": summary,
		})
	default:
		logger.Error("Generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Generation failed",
			Code:  "GENERATION_FAILED",
		})
	}
}

// HandleHealth handles GET /v1/testweaver/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: ServiceVersion})
}

// HandleReady handles GET /v1/testweaver/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Service not initialized",
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", Version: ServiceVersion})
}

// getOrCreateRequestID returns the inbound request ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
