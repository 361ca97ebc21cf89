// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// declaration is one testable declaration found in the source, before
// range filtering.
type declaration struct {
	name         string
	kind         FunctionType
	className    string
	isPrivate    bool
	privateProps []string
	code         string
	startLine    int
	endLine      int
}

// collectDeclarations enumerates top-level function declarations,
// arrow-function assignments, and class methods, in source order.
func collectDeclarations(root *sitter.Node, content []byte) []declaration {
	var decls []declaration

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "export_statement":
			collectFromExport(child, content, &decls)
		case "function_declaration":
			if d, ok := functionDeclaration(child, content); ok {
				decls = append(decls, d)
			}
		case "lexical_declaration", "variable_declaration":
			collectArrowFunctions(child, content, &decls)
		case "class_declaration", "abstract_class_declaration":
			collectClassMethods(child, content, &decls)
		}
	}
	return decls
}

// collectFromExport unwraps an export statement and collects the
// wrapped declaration.
func collectFromExport(node *sitter.Node, content []byte, decls *[]declaration) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_declaration":
			if d, ok := functionDeclaration(child, content); ok {
				// Span covers the full export statement
				d.startLine = int(node.StartPoint().Row + 1)
				d.endLine = int(node.EndPoint().Row + 1)
				d.code = slice(node, content)
				*decls = append(*decls, d)
			}
		case "lexical_declaration", "variable_declaration":
			before := len(*decls)
			collectArrowFunctions(child, content, decls)
			for j := before; j < len(*decls); j++ {
				(*decls)[j].startLine = int(node.StartPoint().Row + 1)
				(*decls)[j].endLine = int(node.EndPoint().Row + 1)
			}
		case "class_declaration", "abstract_class_declaration":
			collectClassMethods(child, content, decls)
		}
	}
}

// functionDeclaration extracts a top-level function declaration.
func functionDeclaration(node *sitter.Node, content []byte) (declaration, bool) {
	var name string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			name = slice(child, content)
		}
	}
	if name == "" {
		return declaration{}, false
	}
	return declaration{
		name:      name,
		kind:      FunctionDeclaration,
		isPrivate: privateByConvention(name),
		code:      slice(node, content),
		startLine: int(node.StartPoint().Row + 1),
		endLine:   int(node.EndPoint().Row + 1),
	}, true
}

// collectArrowFunctions finds variable declarators whose value is an
// arrow function.
func collectArrowFunctions(node *sitter.Node, content []byte, decls *[]declaration) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "variable_declarator" {
			continue
		}

		var name string
		hasArrow := false
		for j := 0; j < int(child.ChildCount()); j++ {
			gc := child.Child(j)
			switch gc.Type() {
			case "identifier":
				name = slice(gc, content)
			case "arrow_function", "function_expression", "function":
				hasArrow = true
			}
		}
		if name == "" || !hasArrow {
			continue
		}

		*decls = append(*decls, declaration{
			name:      name,
			kind:      ArrowFunction,
			isPrivate: privateByConvention(name),
			code:      slice(node, content),
			startLine: int(node.StartPoint().Row + 1),
			endLine:   int(node.EndPoint().Row + 1),
		})
	}
}

// collectClassMethods extracts the methods of a class body together
// with the class's private property names. Constructors are not
// targets.
func collectClassMethods(node *sitter.Node, content []byte, decls *[]declaration) {
	var className string
	var body *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "type_identifier", "identifier":
			className = slice(child, content)
		case "class_body":
			body = child
		}
	}
	if className == "" || body == nil {
		return
	}

	privateProps := classPrivateProperties(body, content)

	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member.Type() != "method_definition" {
			continue
		}

		var name, accessModifier string
		for j := 0; j < int(member.ChildCount()); j++ {
			gc := member.Child(j)
			switch gc.Type() {
			case "accessibility_modifier":
				accessModifier = slice(gc, content)
			case "property_identifier", "private_property_identifier":
				name = slice(gc, content)
			}
		}
		if name == "" || name == "constructor" {
			continue
		}

		*decls = append(*decls, declaration{
			name:         name,
			kind:         ClassMethod,
			className:    className,
			isPrivate:    accessModifier == "private" || accessModifier == "protected" || privateByConvention(name),
			privateProps: privateProps,
			code:         slice(member, content),
			startLine:    int(member.StartPoint().Row + 1),
			endLine:      int(member.EndPoint().Row + 1),
		})
	}
}

// classPrivateProperties collects private field names of a class body
// in declaration order. A field is private when it carries a
// private/protected modifier or uses the # / _ naming convention.
func classPrivateProperties(body *sitter.Node, content []byte) []string {
	var props []string
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member.Type() != "public_field_definition" && member.Type() != "field_definition" {
			continue
		}

		var name, accessModifier string
		for j := 0; j < int(member.ChildCount()); j++ {
			gc := member.Child(j)
			switch gc.Type() {
			case "accessibility_modifier":
				accessModifier = slice(gc, content)
			case "property_identifier", "private_property_identifier":
				name = slice(gc, content)
			}
		}
		if name == "" {
			continue
		}
		if accessModifier == "private" || accessModifier == "protected" || privateByConvention(name) {
			props = append(props, name)
		}
	}
	return props
}

// privateByConvention reports whether a name follows the _ or #
// private naming convention.
func privateByConvention(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, "#")
}

// slice returns the exact source text of a node.
func slice(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
