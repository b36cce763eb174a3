package openapi

import (
	"bytes"
	"os"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDocumentReturnsCopyAndMatchesFile(t *testing.T) {
	want, err := os.ReadFile("workassign.yaml")
	if err != nil {
		t.Fatalf("read workassign.yaml: %v", err)
	}
	doc := Document()
	if !bytes.Equal(doc, want) {
		t.Fatalf("Document does not match embedded contents")
	}
	doc[0] ^= 0xFF
	if !bytes.Equal(Document(), want) {
		t.Fatalf("Document mutation leaked into embedded content")
	}
}

func TestDocumentParses(t *testing.T) {
	var parsed struct {
		OpenAPI string                    `yaml:"openapi"`
		Paths   map[string]map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(Document(), &parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.OpenAPI == "" {
		t.Fatalf("missing openapi version")
	}
	for path, method := range map[string]string{
		"/api/table":                "get",
		"/api/table.csv":            "get",
		"/api/allocations":          "post",
		"/api/reports/exports":      "post",
		"/api/reports/exports/{id}": "get",
	} {
		if _, ok := parsed.Paths[path][method]; !ok {
			t.Fatalf("missing %s %s", method, path)
		}
	}
}
