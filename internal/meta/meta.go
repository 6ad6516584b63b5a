// Package meta holds build metadata set through -ldflags.
package meta

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/rickchristie/pgscope/internal/meta.Version=v1.2.3"
var Version = "dev"

// Name is the product name used in banners, telemetry and MCP server info.
const Name = "pgscope"
