// Package demo provides a small MCP tool server used to exercise function
// calling end to end without external services.
package demo

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type report struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Forecast    string `json:"forecast"`
}

// Canned readings in fahrenheit, keyed by lowercase city.
var readings = map[string]report{
	"san francisco": {Temperature: 72, Forecast: "sunny"},
	"tokyo":         {Temperature: 50, Forecast: "cloudy"},
	"paris":         {Temperature: 68, Forecast: "light rain"},
}

// NewServer returns an MCP server exposing get_current_weather.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer("funcgate-demo", "0.1.0")

	s.AddTool(mcp.NewTool("get_current_weather",
		mcp.WithDescription("Get the current weather"),
		mcp.WithString("location",
			mcp.Required(),
			mcp.Description("The city and state, e.g., San Francisco, CA"),
		),
		mcp.WithString("unit",
			mcp.Enum("celsius", "fahrenheit"),
			mcp.Description("Temperature unit (default fahrenheit)"),
		),
	), handleWeather)

	return s
}

func handleWeather(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	location, err := request.RequireString("location")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	unit := request.GetString("unit", "fahrenheit")

	r, ok := lookup(location)
	if !ok {
		return mcp.NewToolResultError("no weather data for " + location), nil
	}
	r.Location = location
	r.Unit = unit
	if unit == "celsius" {
		r.Temperature = (r.Temperature - 32) * 5 / 9
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func lookup(location string) (report, bool) {
	city, _, _ := strings.Cut(strings.ToLower(location), ",")
	r, ok := readings[strings.TrimSpace(city)]
	return r, ok
}
