// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt builds the ordered message lists sent to the
// text-generation service, and compresses fix context to a token-safe
// size. Builders are pure functions: no network, no state, fully
// deterministic given their inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/extract"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem carries framework conventions and output-format
	// constraints. Always first.
	RoleSystem Role = "system"

	// RoleUser carries the target material. Always second.
	RoleUser Role = "user"
)

// Message is one entry in the ordered request message list.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RelatedFunction is an optional supporting snippet included as
// generation context.
type RelatedFunction struct {
	Name string
	Code string
}

// BuildGenerationMessages builds the message list for generating
// complete tests for one target. Message order is fixed: system
// instructions first, user content second.
func BuildGenerationMessages(target *extract.TestTarget, framework config.Framework, related []RelatedFunction) []Message {
	return []Message{
		{Role: RoleSystem, Content: systemPrompt(framework, false)},
		{Role: RoleUser, Content: userPrompt(target, related, false)},
	}
}

// BuildScaffoldMessages builds the message list for scaffold mode:
// a structurally valid test skeleton with empty todo cases, intended
// for human completion.
func BuildScaffoldMessages(target *extract.TestTarget, framework config.Framework) []Message {
	return []Message{
		{Role: RoleSystem, Content: systemPrompt(framework, true)},
		{Role: RoleUser, Content: userPrompt(target, nil, true)},
	}
}

// BuildFixMessages builds the message list for repairing a failing
// test file. The fix context should already be optimized (see
// Optimizer) before it reaches this builder.
func BuildFixMessages(fc FixContext, framework config.Framework) []Message {
	var b strings.Builder

	b.WriteString("The following test file fails. Repair the tests so they pass.\n\n")

	if fc.OriginalCode != "" {
		b.WriteString("Source under test:\n")
		b.WriteString(fc.OriginalCode)
		b.WriteString("\n\n")
	}

	b.WriteString("Current test code:\n")
	b.WriteString(fc.TestCode)
	b.WriteString("\n\n")

	b.WriteString("Failure:\n")
	b.WriteString(fc.ErrorMessage)
	b.WriteString("\n")

	if fc.TestOutput != "" {
		b.WriteString("\nTest runner output:\n")
		b.WriteString(fc.TestOutput)
		b.WriteString("\n")
	}

	if len(fc.FailingTests) > 0 {
		b.WriteString("\nFailing tests:\n")
		for _, name := range fc.FailingTests {
			b.WriteString("- ")
			b.WriteString(name)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nReturn the complete corrected test file.")

	return []Message{
		{Role: RoleSystem, Content: systemPrompt(framework, false)},
		{Role: RoleUser, Content: b.String()},
	}
}

// systemPrompt encodes the framework's syntax convention and the
// output-format constraints.
func systemPrompt(framework config.Framework, scaffold bool) string {
	var b strings.Builder

	b.WriteString("You are an expert TypeScript/JavaScript test engineer.\n")

	switch framework {
	case config.FrameworkVitest:
		b.WriteString("Write tests for vitest. Import every test function you use ")
		b.WriteString("explicitly, e.g. import { describe, it, expect, vi } from 'vitest'.\n")
	default:
		b.WriteString("Write tests for jest. describe, it, and expect are globals; ")
		b.WriteString("do not import them.\n")
	}

	b.WriteString("Group tests in describe blocks named after the function or class ")
	b.WriteString("under test. Cover normal behavior, edge cases, and error paths.\n")

	if scaffold {
		b.WriteString("Produce only a test skeleton: a describe block containing ")
		b.WriteString("it.todo entries naming the cases a human should implement. ")
		b.WriteString("Do not write assertions.\n")
	}

	b.WriteString("Output constraints: return only code. No prose, no explanations, ")
	b.WriteString("no markdown fences.")

	return b.String()
}

// userPrompt assembles the target material: file path, target name and
// kind, exact source, and any surrounding or related context.
func userPrompt(target *extract.TestTarget, related []RelatedFunction, scaffold bool) string {
	var b strings.Builder

	if scaffold {
		fmt.Fprintf(&b, "Write a test skeleton for the following %s.\n\n", target.FunctionType)
	} else {
		fmt.Fprintf(&b, "Write unit tests for the following %s.\n\n", target.FunctionType)
	}

	fmt.Fprintf(&b, "File: %s\n", target.FilePath)
	fmt.Fprintf(&b, "Name: %s\n", target.FunctionName)
	if target.ClassName != "" {
		fmt.Fprintf(&b, "Class: %s\n", target.ClassName)
		if target.IsPrivate {
			b.WriteString("Visibility: private (test through the public surface)\n")
		}
		if len(target.ClassPrivateProperties) > 0 {
			fmt.Fprintf(&b, "Private properties: %s\n", strings.Join(target.ClassPrivateProperties, ", "))
		}
	}

	b.WriteString("\nSource:\n")
	b.WriteString(target.Code)
	b.WriteString("\n")

	if target.Context != "" && target.Context != target.Code {
		b.WriteString("\nSurrounding context:\n")
		b.WriteString(target.Context)
		b.WriteString("\n")
	}

	for _, rf := range related {
		fmt.Fprintf(&b, "\nRelated function %s:\n%s\n", rf.Name, rf.Code)
	}

	if target.ExistingTestFile != "" {
		b.WriteString("\nAn existing test file covers this module:\n")
		b.WriteString(target.ExistingTestFile)
		b.WriteString("\nExtend it with new test cases. Do not rewrite or remove ")
		b.WriteString("existing tests.\n")
	}

	return b.String()
}
