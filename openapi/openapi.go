// Package openapi embeds the API description so the binary can serve it
// without a working directory dependency.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
