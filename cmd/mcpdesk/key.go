package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/mcpdesk/internal/config"
)

// KeyCmd reads an API key from stdin and stores it in the OS keyring.
type KeyCmd struct {
	Args struct {
		Provider string `positional-arg-name:"provider" required:"yes"`
	} `positional-args:"yes"`
}

func (c *KeyCmd) Execute(_ []string) error {
	fmt.Fprintf(os.Stderr, "API key for %s: ", c.Args.Provider)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if err := config.StoreAPIKey(c.Args.Provider, key); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored key for %s\n", c.Args.Provider)
	return nil
}
