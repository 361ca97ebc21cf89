// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/testweaver/pkg/telemetry"
	"github.com/AleutianAI/testweaver/services/testgen/api"
)

func runServe(cmd *cobra.Command, args []string) {
	svc, err := buildService(false)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.ServiceVersion = api.ServiceVersion
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatalf("Error initializing telemetry: %v", err)
	}

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	api.RegisterRoutes(v1, api.NewHandlers(svc))

	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	fmt.Printf("Starting testweaver server on :%d\n", servePort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
	fmt.Println("Server stopped.")
}
