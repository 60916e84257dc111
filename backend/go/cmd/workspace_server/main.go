package main

import (
	"asterism/backend/go/pkg/tools/workspace"
	"flag"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

// STDIO transport (default) limited to the current directory
//go run main.go
//go run main.go -transport=stdio -roots="/home/user/documents,/tmp/scratch"
//
// SSE transport on port 8084
//go run main.go -transport=sse -port=8084 -roots="/home/user/projects"

func main() {
	transport := flag.String("transport", "stdio", "Transport method: stdio, sse, or http_stream")
	port := flag.String("port", "8084", "Port for HTTP-based transports (sse, http_stream)")
	roots := flag.String("roots", ".", "Comma-separated list of allowed directories")
	flag.Parse()

	var dirs []string
	for _, d := range strings.Split(*roots, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	s, err := workspace.NewServer(dirs)
	if err != nil {
		log.Fatalf("failed to create workspace server: %v", err)
	}

	switch *transport {
	case "sse":
		log.Printf("Starting workspace MCP server with SSE transport on port %s", *port)
		if err := server.NewSSEServer(s).Start(":" + *port); err != nil {
			log.Fatalf("SSE server error: %v", err)
		}
	case "http_stream", "httpstream":
		log.Printf("Starting workspace MCP server with StreamableHTTP transport on port %s", *port)
		if err := server.NewStreamableHTTPServer(s).Start(":" + *port); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("STDIO server error: %v", err)
		}
	default:
		log.Fatalf("Unknown transport: %s. Use stdio, sse, or http_stream", *transport)
	}
}
