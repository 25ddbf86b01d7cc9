// Command funcgate-demo-tools serves the demo weather tool over MCP stdio,
// for use as a tools entry in funcgate.yaml.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/funcgate/internal/tools/demo"
)

func main() {
	if err := server.ServeStdio(demo.NewServer()); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
