package tools_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/michaelbrown/funcgate/internal/prompt"
	"github.com/michaelbrown/funcgate/internal/tools"
	"github.com/michaelbrown/funcgate/internal/tools/demo"
)

func demoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	t.Cleanup(r.Close)
	if err := r.RegisterServer(context.Background(), "demo", demo.NewServer()); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}
	return r
}

func TestRegistryEmpty(t *testing.T) {
	r := tools.NewRegistry()
	defer r.Close()

	if r.HasTools() {
		t.Fatal("empty registry should not have tools")
	}
	defs, err := r.FunctionDefinitions()
	if err != nil {
		t.Fatalf("FunctionDefinitions: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("FunctionDefinitions() = %d, want 0", len(defs))
	}

	_, err = r.CallTool(context.Background(), "nonexistent", "{}")
	if err == nil {
		t.Fatal("CallTool on empty registry should return error")
	}
}

func TestRegistrySkipsDisabled(t *testing.T) {
	r := tools.NewRegistry()
	defer r.Close()

	err := r.Register("disabled-server", tools.ToolServerConfig{
		Binary:  "/nonexistent/binary",
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("Register disabled server should not error: %v", err)
	}
	if r.HasTools() {
		t.Fatal("disabled server should not register tools")
	}
}

func TestRegistryBadBinary(t *testing.T) {
	r := tools.NewRegistry()
	defer r.Close()

	err := r.Register("bad", tools.ToolServerConfig{
		Binary:  "/nonexistent/binary",
		Enabled: true,
	})
	if err == nil {
		t.Fatal("Register with bad binary should return error")
	}
}

func TestRegistryDefinitionsAreValidFunctions(t *testing.T) {
	r := demoRegistry(t)

	defs, err := r.FunctionDefinitions()
	if err != nil {
		t.Fatalf("FunctionDefinitions: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "get_current_weather" {
		t.Fatalf("defs = %+v", defs)
	}
	if err := prompt.CheckFunctionDefs(defs); err != nil {
		t.Fatalf("demo definitions rejected: %v", err)
	}

	params, err := defs[0].ParametersMap()
	if err != nil {
		t.Fatalf("ParametersMap: %v", err)
	}
	required, _ := params["required"].([]any)
	if len(required) != 1 || required[0] != "location" {
		t.Errorf("required = %v, want [location]", params["required"])
	}
}

func TestRegistryCallTool(t *testing.T) {
	r := demoRegistry(t)

	result, err := r.CallTool(context.Background(), "get_current_weather", `{"location": "Tokyo"}`)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(result), &got); err != nil {
		t.Fatalf("result is not JSON: %q", result)
	}
	if got["location"] != "Tokyo" || got["temperature"] != float64(50) {
		t.Errorf("result = %v", got)
	}
}

func TestRegistryToolError(t *testing.T) {
	r := demoRegistry(t)

	result, err := r.CallTool(context.Background(), "get_current_weather", `{"location": "Atlantis"}`)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !strings.HasPrefix(result, "error: ") {
		t.Errorf("result = %q, want error prefix", result)
	}
}

func TestRegistryBadArguments(t *testing.T) {
	r := demoRegistry(t)

	_, err := r.CallTool(context.Background(), "get_current_weather", `{"location": `)
	if err == nil {
		t.Fatal("malformed arguments should return error")
	}
}

func TestRegistryDuplicateTool(t *testing.T) {
	r := demoRegistry(t)

	err := r.RegisterServer(context.Background(), "demo-2", demo.NewServer())
	if err == nil {
		t.Fatal("registering the same tool twice should return error")
	}
}
