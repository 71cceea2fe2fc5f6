package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// operations served by services/storybook/internal/server.
var operations = map[string][]string{
	"/api/health":                {"get"},
	"/api/stories":               {"get", "post"},
	"/api/stories/{id}":          {"get"},
	"/api/stories/{id}/purchase": {"post"},
	"/api/stories/{id}/chat":     {"get", "post"},
	"/api/contact":               {"get", "post"},
	"/api/contact/{id}":          {"get"},
	"/api/users":                 {"post"},
	"/api/users/{id}":            {"get"},
	"/metrics":                   {"get"},
}

var recordSchemas = []string{"User", "Story", "ChatMessage", "ContactSubmission"}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func run(path string) error {
	doc, err := loadDoc(path)
	if err != nil {
		return err
	}
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	fieldErr, err := getSchema(doc, "FieldError")
	if err != nil {
		return err
	}
	if err := validateFieldError(fieldErr); err != nil {
		return err
	}
	for _, name := range recordSchemas {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if s.Type != "object" || !makeSet(s.Required)["id"] {
			return fmt.Errorf("%s must be an object with a required id", name)
		}
	}
	return validatePaths(doc)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"message", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"message", "code", "requestId"} {
		if prop, ok := s.Properties[field]; !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	errorsProp, ok := s.Properties["errors"]
	if !ok || errorsProp.Type != "array" {
		return errors.New("ErrorResponse.errors must be array")
	}
	if errorsProp.Items == nil || strings.TrimSpace(errorsProp.Items.Ref) != "#/components/schemas/FieldError" {
		return errors.New("ErrorResponse.errors.items must reference FieldError")
	}
	return nil
}

func validateFieldError(s schema) error {
	if s.Type != "object" {
		return errors.New("FieldError must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"field", "message"} {
		if !required[field] {
			return fmt.Errorf("FieldError.required must include %q", field)
		}
		if prop, ok := s.Properties[field]; !ok || prop.Type != "string" {
			return fmt.Errorf("FieldError.%s must be string", field)
		}
	}
	return nil
}

func validatePaths(doc openAPIDoc) error {
	var missing []string
	for path, methods := range operations {
		item, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, path)
			continue
		}
		for _, method := range methods {
			if _, ok := item[method]; !ok {
				missing = append(missing, strings.ToUpper(method)+" "+path)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("undocumented operations: %s", strings.Join(missing, ", "))
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
