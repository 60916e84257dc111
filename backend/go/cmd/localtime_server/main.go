package main

import (
	"asterism/backend/go/pkg/tools/localtime"
	"flag"
	"log"

	"github.com/mark3labs/mcp-go/server"
)

// STDIO transport (default)
//go run main.go
//go run main.go -transport=stdio
//
// SSE transport on port 8085
//go run main.go -transport=sse -port=8085
//
// StreamableHTTP transport on port 9000
//go run main.go -transport=http_stream -port=9000

func main() {
	transport := flag.String("transport", "stdio", "Transport method: stdio, sse, or http_stream")
	port := flag.String("port", "8085", "Port for HTTP-based transports (sse, http_stream)")
	flag.Parse()

	s := localtime.NewServer(nil)

	switch *transport {
	case "sse":
		log.Printf("Starting localtime MCP server with SSE transport on port %s", *port)
		sseServer := server.NewSSEServer(s)
		if err := sseServer.Start(":" + *port); err != nil {
			log.Fatalf("SSE server error: %v", err)
		}
	case "http_stream", "httpstream":
		log.Printf("Starting localtime MCP server with StreamableHTTP transport on port %s", *port)
		httpServer := server.NewStreamableHTTPServer(s)
		if err := httpServer.Start(":" + *port); err != nil {
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
