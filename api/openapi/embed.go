// Package openapi embeds the admin API description.
package openapi

import _ "embed"

// Spec is the OpenAPI 3 document served at /api/openapi.yaml.
//
//go:embed openapi.yaml
var Spec []byte
