package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/funcgate/internal/agent"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/tools"
	"github.com/michaelbrown/funcgate/internal/tools/demo"
)

var (
	modelFlag     string
	profileFlag   string
	demoToolsFlag bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the model through a running funcgate server",
	Long: `Start an interactive conversation against a funcgate server. Tools from
the configured MCP servers are offered to the model and run locally when
it calls them.

Examples:
  funcgate chat
  funcgate chat --demo-tools
  funcgate chat --profile profiles/weather.yaml`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&modelFlag, "model", "", "Model to request (overrides config and profile)")
	chatCmd.Flags().StringVar(&profileFlag, "profile", "", "Agent profile file")
	chatCmd.Flags().BoolVar(&demoToolsFlag, "demo-tools", false, "Offer the built-in get_current_weather tool")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var profile *agent.Profile
	if profileFlag != "" {
		profile, err = agent.LoadProfile(profileFlag)
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
	}

	model := modelFlag
	if model == "" {
		if profile != nil && profile.Model != "" {
			model = profile.Model
		} else {
			model = cfg.Chat.Model
		}
	}

	registry := tools.NewRegistry()
	defer registry.Close()

	for name, toolCfg := range cfg.Tools {
		if err := registry.Register(name, toolCfg); err != nil {
			fmt.Printf("Warning: failed to start tool server %s: %v\n", name, err)
		}
	}
	if demoToolsFlag {
		if err := registry.RegisterServer(cmd.Context(), "demo", demo.NewServer()); err != nil {
			return fmt.Errorf("starting demo tools: %w", err)
		}
	}

	client := llm.NewChatClient(cfg.Chat.ServerURL, cfg.Chat.APIKey, model)

	var executor agent.ToolExecutor
	if registry.HasTools() {
		executor = registry
	}
	a, err := agent.New(client, executor, cfg.Chat.MaxIterations)
	if err != nil {
		return err
	}
	if profile != nil {
		profile.Apply(a)
	}

	fmt.Printf("funcgate - Interactive Chat\n")
	if profile != nil {
		fmt.Printf("Profile: %s\n", profile.Name)
	}
	fmt.Printf("Server: %s | Model: %s\n", cfg.Chat.ServerURL, displayModel(model))
	if n := len(a.Tools()); n > 0 {
		fmt.Printf("Tools: %d available\n", n)
	} else {
		fmt.Printf("Tools: none\n")
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	a.OnTextDelta = func(delta string) {
		fmt.Print(delta)
	}
	a.OnToolCall = func(name, arguments string) {
		fmt.Printf("\n  \033[33m⚡ Tool: %s\033[0m\n", agent.FormatToolCall(name, arguments))
	}
	a.OnToolResult = func(name, result string) {
		lines := strings.Split(strings.TrimSpace(result), "\n")
		preview := lines
		if len(preview) > 8 {
			preview = preview[:8]
		}
		for _, line := range preview {
			fmt.Printf("  \033[90m│ %s\033[0m\n", line)
		}
		if len(lines) > 8 {
			fmt.Printf("  \033[90m│ ... (%d more lines)\033[0m\n", len(lines)-8)
		}
		fmt.Println()
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     filepath.Join(home, ".funcgate", "chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active request, not the whole app.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(input, a); quit {
				return nil
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel

		fmt.Printf("\n\033[32massistant>\033[0m ")
		_, err = a.RunStreaming(reqCtx, input)
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if err != nil {
			if wasInterrupted {
				fmt.Println("\n(interrupted)")
				continue
			}
			fmt.Printf("\n\033[31merror: %s\033[0m\n\n", err)
			continue
		}

		fmt.Printf("\n\n")
	}
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(input string, a *agent.Agent) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		a.Reset()
		fmt.Println("Conversation reset.")
		fmt.Println()
	case "/history":
		fmt.Println(a.HistoryJSON())
		fmt.Println()
	case "/tools":
		for _, t := range a.Tools() {
			fmt.Printf("  %s - %s\n", t.Name, t.Description)
		}
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /tools    - List tools offered to the model")
		fmt.Println("  /reset    - Clear conversation history")
		fmt.Println("  /history  - Show raw conversation history (JSON)")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}

func displayModel(model string) string {
	if model == "" {
		return "(server default)"
	}
	return model
}
