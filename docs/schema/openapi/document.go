// Package openapi embeds the OpenAPI description of the HTTP API.
package openapi

import _ "embed"

//go:embed workassign.yaml
var document []byte

// ContentType is the media type the document is served with.
const ContentType = "application/yaml"

// Document returns a copy of the embedded OpenAPI YAML.
func Document() []byte {
	return append([]byte(nil), document...)
}
