// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all testweaver routes with the router.
//
// Description:
//
//	Registers all /v1/testweaver/* endpoints with the given Gin router
//	group. The group gets otelgin tracing middleware; any other
//	middleware should already be applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/testweaver/generate - Generate tests for a unified diff
//	POST /v1/testweaver/generate/pr - Generate tests for a pull request
//	GET  /v1/testweaver/health - Health check
//	GET  /v1/testweaver/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	testweaver := rg.Group("/testweaver")
	testweaver.Use(otelgin.Middleware("testweaver"))
	{
		// Generation
		testweaver.POST("/generate", handlers.HandleGenerate)
		testweaver.POST("/generate/pr", handlers.HandleGeneratePR)

		// Health checks
		testweaver.GET("/health", handlers.HandleHealth)
		testweaver.GET("/ready", handlers.HandleReady)
	}
}
