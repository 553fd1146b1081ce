package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/security"
)

// pinhash reads a manager PIN from stdin and prints the argon2id hash to set
// as POS_APPROVAL_MANAGER_PIN_HASH on registers that approve offline.
func main() {
	logg := logger.New(logger.Options{ServiceName: "pinhash", Format: logger.FormatConsole, Output: os.Stderr})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, ".env file not found, relying on environment")
	}

	var cfg config.PasswordConfig
	if err := envconfig.Process(config.EnvPrefix, &cfg); err != nil {
		logg.Error(ctx, "failed to load argon settings", err)
		os.Exit(1)
	}

	pin, err := readPIN(bufio.NewReader(os.Stdin))
	if err != nil {
		logg.Error(ctx, "failed to read pin", err)
		os.Exit(1)
	}

	hash, err := security.HashPIN(pin, cfg)
	if err != nil {
		logg.Error(ctx, "failed to hash pin", err)
		os.Exit(2)
	}
	fmt.Println(hash)
}

func readPIN(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no pin on stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
