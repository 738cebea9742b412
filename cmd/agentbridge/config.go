package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentbridge/agentbridge/claude"
	"github.com/agentbridge/agentbridge/codex"
	"github.com/agentbridge/agentbridge/gemini"
	"github.com/agentbridge/agentbridge/provider"
)

// Config is the CLI's YAML configuration, one section per backend.
type Config struct {
	Gemini struct {
		CLIPath       string        `yaml:"cli_path"`
		Yolo          *bool         `yaml:"yolo"`
		SoftKillDelay time.Duration `yaml:"soft_kill_delay"`
		HardKillDelay time.Duration `yaml:"hard_kill_delay"`
	} `yaml:"gemini"`

	Claude struct {
		Model        string `yaml:"model"`
		MaxTokens    int    `yaml:"max_tokens"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"claude"`

	Codex struct {
		Model        string `yaml:"model"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"codex"`
}

// loadConfig reads the config file. A missing file yields defaults.
func loadConfig() (*Config, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &Config{}, nil
		}
		path = filepath.Join(home, ".agentbridge.yaml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// openAdapter builds the selected backend's adapter from config.
func openAdapter(cfg *Config) (provider.Adapter, error) {
	switch providerName {
	case gemini.Name:
		var opts []gemini.Option
		if cfg.Gemini.CLIPath != "" {
			opts = append(opts, gemini.WithCLIPath(cfg.Gemini.CLIPath))
		}
		if cfg.Gemini.Yolo != nil {
			opts = append(opts, gemini.WithYolo(*cfg.Gemini.Yolo))
		}
		if cfg.Gemini.SoftKillDelay > 0 || cfg.Gemini.HardKillDelay > 0 {
			opts = append(opts, gemini.WithKillDelays(cfg.Gemini.SoftKillDelay, cfg.Gemini.HardKillDelay))
		}
		return gemini.New(opts...), nil

	case claude.Name:
		var opts []claude.Option
		if cfg.Claude.Model != "" {
			opts = append(opts, claude.WithDefaultModel(cfg.Claude.Model))
		}
		if cfg.Claude.MaxTokens > 0 {
			opts = append(opts, claude.WithMaxTokens(cfg.Claude.MaxTokens))
		}
		if cfg.Claude.SystemPrompt != "" {
			opts = append(opts, claude.WithSystemPrompt(cfg.Claude.SystemPrompt))
		}
		return claude.New(claude.NewAPIClient(), opts...), nil

	case codex.Name:
		var opts []codex.ClientOption
		if cfg.Codex.Model != "" {
			opts = append(opts, codex.WithChatModel(cfg.Codex.Model))
		}
		if cfg.Codex.SystemPrompt != "" {
			opts = append(opts, codex.WithSystemPrompt(cfg.Codex.SystemPrompt))
		}
		return codex.New(codex.NewChatClient(opts)), nil

	default:
		// Anything else goes through the registry.
		return provider.Open(providerName)
	}
}

// openThread starts or resumes the thread named by the flags.
func openThread(adapter provider.Adapter) (*provider.Thread, error) {
	var opts []provider.ThreadOption
	if model != "" {
		opts = append(opts, provider.WithModel(model))
	}
	if workDir != "" {
		opts = append(opts, provider.WithWorkDir(workDir))
	}
	if resumeID != "" {
		return adapter.ResumeThread(resumeID, opts...)
	}
	return adapter.StartThread(opts...)
}
