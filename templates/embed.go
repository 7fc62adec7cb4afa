// Package templates embeds the worker prompt template.
package templates

import "embed"

//go:embed worker_prompt.md
var FS embed.FS
