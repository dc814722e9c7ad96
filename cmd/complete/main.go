// complete sends text through a chat completion provider, typically
// to clean up a transcript produced by the daemon. The prompt comes
// from the arguments or stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dev-msp/untitled-voice-assistant/internal/completion"
	"github.com/dev-msp/untitled-voice-assistant/internal/config"
)

const defaultConfigPath = "configs/voiced.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	provider := flag.String("provider", "", "Override the configured provider")
	model := flag.String("model", "", "Override the configured model")
	timeout := flag.Duration("timeout", 2*time.Minute, "Request timeout")
	flag.Parse()

	// Load .env for API keys before reading configuration
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	prompt, err := readPrompt(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read prompt: %v\n", err)
		os.Exit(1)
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: complete [flags] <text>  (or pipe text on stdin)")
		os.Exit(1)
	}

	providerCfg := completion.Config{
		Provider:      cfg.Completion.Provider,
		Model:         cfg.Completion.Model,
		BaseURL:       cfg.Completion.BaseURL,
		SystemMessage: cfg.Completion.SystemMessage,
	}
	if cfg.Completion.APIKeyEnv != "" {
		providerCfg.APIKey = os.Getenv(cfg.Completion.APIKeyEnv)
	}
	if *provider != "" {
		providerCfg.Provider = *provider
	}
	if *model != "" {
		providerCfg.Model = *model
	}

	p, err := completion.New(providerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create provider: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := p.Complete(ctx, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Completion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result)
}

// readPrompt takes the prompt from the arguments, falling back to
// stdin when none are given.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
