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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/testweaver/services/testgen"
	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/llm"
	"github.com/AleutianAI/testweaver/services/testgen/prompt"
)

const sampleSource = `export function add(a: number, b: number): number {
  return a + b;
}
`

const sampleDiff = `diff --git a/src/calc.ts b/src/calc.ts
--- a/src/calc.ts
+++ b/src/calc.ts
@@ -1,3 +1,3 @@
 export function add(a: number, b: number): number {
-  return a;
+  return a + b;
 }
`

const generatedTest = `describe('add', () => {
	it('returns the sum', () => {
		expect(add(1, 2)).toBe(3);
	});
});`

// fakeClient returns one canned response for every call.
type fakeClient struct {
	response string
}

func (f *fakeClient) GenerateTest(_ context.Context, _ []prompt.Message) (*llm.GenerationResult, error) {
	return &llm.GenerationResult{TestCode: f.response}, nil
}

func (f *fakeClient) GenerateTestScaffold(_ context.Context, _ []prompt.Message) (*llm.GenerationResult, error) {
	return &llm.GenerationResult{TestCode: f.response}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src/calc.ts"), []byte(sampleSource), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.ProjectRoot = root
	cfg.CodeStyle.FormatGeneratedCode = false

	svc := testgen.NewService(cfg, &fakeClient{response: generatedTest})

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleGenerate_Success(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(GenerateRequest{Diff: sampleDiff})
	w := doJSON(t, router, http.MethodPost, "/v1/testweaver/generate", string(body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.TargetsProcessed != 1 || resp.Summary.TestsGenerated != 1 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if len(resp.Summary.TestFiles) != 1 {
		t.Fatalf("test files = %d, want 1", len(resp.Summary.TestFiles))
	}
	if !strings.Contains(resp.Summary.TestFiles[0].Content, "returns the sum") {
		t.Error("generated content missing from summary")
	}
}

func TestHandleGenerate_InvalidBody(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/testweaver/generate", `{"nope": true}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestHandleGenerate_MalformedDiff(t *testing.T) {
	router := newTestRouter(t)

	malformed := "--- a/src/calc.ts\n+++ b/src/calc.ts\n@@ garbage @@\n+x\n"
	body, _ := json.Marshal(GenerateRequest{Diff: malformed})
	w := doJSON(t, router, http.MethodPost, "/v1/testweaver/generate", string(body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed diff, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleGenerate_NoTargets(t *testing.T) {
	router := newTestRouter(t)

	// A diff touching only a test file yields no targets.
	diff := strings.ReplaceAll(sampleDiff, "src/calc.ts", "src/calc.test.ts")
	body, _ := json.Marshal(GenerateRequest{Diff: diff})

	w := doJSON(t, router, http.MethodPost, "/v1/testweaver/generate", string(body))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/testweaver/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	var health HealthResponse
	json.Unmarshal(w.Body.Bytes(), &health)
	if health.Status != "ok" || health.Version == "" {
		t.Errorf("health = %+v", health)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/testweaver/ready", "")
	if w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/testweaver/generate", strings.NewReader("{}"))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed back", got)
	}
}
