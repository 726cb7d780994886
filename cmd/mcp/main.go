// dexkit MCP server.
// Exposes the dexkit HTTP API as tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/dexkit/internal/mcp"
)

func main() {
	dexkitURL := os.Getenv("DEXKIT_URL")
	if dexkitURL == "" {
		dexkitURL = "http://localhost:13001"
	}

	s := server.NewMCPServer(
		"dexkit",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(dexkitURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
