package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/solana"

	"gopkg.in/yaml.v2"
)

// maxTokenDecimals keeps raw amounts within what a u64 mint supply allows.
const maxTokenDecimals = 18

type TokensConfig struct {
	Tokens []models.TokenConfig `yaml:"tokens"`
}

// LoadTokenConfig reads the convertible token list. A missing file means
// no token deposits are accepted.
func LoadTokenConfig(tokensFile string) ([]models.TokenConfig, error) {
	if tokensFile == "" {
		return nil, nil
	}

	var tokensPath string
	if filepath.IsAbs(tokensFile) {
		tokensPath = tokensFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		tokensPath = filepath.Join(wd, tokensFile)
	}

	data, err := os.ReadFile(tokensPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", tokensFile, err)
	}

	return ParseTokenConfig(data)
}

func ParseTokenConfig(data []byte) ([]models.TokenConfig, error) {
	var config TokensConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse token config: %w", err)
	}

	seen := make(map[string]bool, len(config.Tokens))
	for i, token := range config.Tokens {
		if strings.TrimSpace(token.Symbol) == "" {
			return nil, fmt.Errorf("token at index %d missing symbol", i)
		}
		if err := solana.ValidateAddress(token.Mint); err != nil {
			return nil, fmt.Errorf("token %s: %w", token.Symbol, err)
		}
		if token.Decimals < 0 || token.Decimals > maxTokenDecimals {
			return nil, fmt.Errorf("token %s: decimals must be between 0 and %d, got %d", token.Symbol, maxTokenDecimals, token.Decimals)
		}
		if seen[token.Mint] {
			return nil, fmt.Errorf("token %s: duplicate mint %s", token.Symbol, token.Mint)
		}
		seen[token.Mint] = true
	}

	return config.Tokens, nil
}
