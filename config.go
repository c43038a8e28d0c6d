package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Configuration, loaded once at startup. Tests override individual
// variables directly.
var (
	// OpenRouterAPIKey authenticates every model call.
	OpenRouterAPIKey string

	// OpenRouter endpoints.
	OpenRouterAPIURL    = "https://openrouter.ai/api/v1/chat/completions"
	OpenRouterModelsURL = "https://openrouter.ai/api/v1/models"

	// DataDir holds per-conversation JSON files; SettingsPath the
	// persisted mode settings.
	DataDir      = "data/conversations"
	SettingsPath = "data/settings.json"

	// TitleModel generates conversation titles; fast and cheap.
	TitleModel = "google/gemini-2.5-flash"

	// Timeouts.
	ModelQueryTimeout = 120 * time.Second
	TitleGenTimeout   = 30 * time.Second
	FetchURLTimeout   = 30 * time.Second

	// Sequential-mode defaults.
	DefaultIterationCap         = 3
	DefaultConvergenceThreshold = 0.95

	// CORS allowed origins (configurable via environment). In development
	// (empty/default), any localhost origin is allowed.
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB).
	MaxRequestBodySize int64 = 1 << 20

	// CatalogCacheTTL is the time-to-live for the model catalog cache.
	CatalogCacheTTL = 5 * time.Minute

	// ServerPort is the listen port.
	ServerPort = "8001"

	// builtinModeDefaults seeds the settings layer; a modes.yaml file
	// replaces these wholesale for the modes it names.
	builtinModeDefaults = map[string]ModeSettings{
		ModeCouncil: {
			Roles: []RoleBinding{
				{Model: "openai/gpt-5.1", Role: RoleMember},
				{Model: "anthropic/claude-sonnet-4.5", Role: RoleMember},
				{Model: "x-ai/grok-4", Role: RoleMember},
				{Model: "google/gemini-3-pro-preview", Role: RoleChairman},
			},
		},
		ModeDecision: {
			Roles: []RoleBinding{
				{Model: "openai/gpt-5.1", Role: RoleDesigner},
				{Model: "anthropic/claude-sonnet-4.5", Role: RoleGenerator},
				{Model: "google/gemini-3-pro-preview", Role: RoleEvaluator},
				{Model: "x-ai/grok-4", Role: RoleEvaluator},
				{Model: "deepseek/deepseek-r1", Role: RoleRiskAssessor},
				{Model: "mistralai/mistral-large", Role: RoleSynthesizer},
			},
		},
		ModeSequential: {
			Roles: []RoleBinding{
				{Model: "openai/gpt-5.1", Role: "step-1"},
				{Model: "anthropic/claude-sonnet-4.5", Role: "step-2"},
				{Model: "google/gemini-3-pro-preview", Role: "step-3"},
			},
		},
		ModeEnsemble: {
			Roles: []RoleBinding{
				{Model: "openai/gpt-5.1", Role: RoleMember},
				{Model: "anthropic/claude-sonnet-4.5", Role: RoleMember},
				{Model: "google/gemini-3-pro-preview", Role: RoleMember},
				{Model: "x-ai/grok-4", Role: RoleMember},
			},
		},
	}

	builtinDefaultMode = ModeCouncil
)

// modesFile is the shape of the optional modes.yaml override file.
type modesFile struct {
	DefaultMode string                  `yaml:"default_mode"`
	Modes       map[string]ModeSettings `yaml:"modes"`
}

// LoadConfig loads configuration from environment variables and the
// optional modes.yaml file.
func LoadConfig() {
	// Load .env file - try multiple locations.
	envLocations := []string{
		".env",
		"../.env",
	}

	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}
	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	if OpenRouterAPIKey == "" {
		log.Fatal("OPENROUTER_API_KEY environment variable is required")
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		DataDir = dataDir
		SettingsPath = filepath.Join(filepath.Dir(dataDir), "settings.json")
	}

	if port := os.Getenv("PORT"); port != "" {
		ServerPort = port
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = []string{}
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				CORSAllowedOrigins = append(CORSAllowedOrigins, origin)
			}
		}
	}

	modesPath := os.Getenv("MODES_CONFIG")
	if modesPath == "" {
		modesPath = "modes.yaml"
	}
	if err := LoadModesFile(modesPath); err != nil {
		log.Fatalf("Failed to load modes config: %v", err)
	}

	log.Println("Configuration loaded successfully")
}

// LoadModesFile merges a YAML mode-defaults file over the built-in
// defaults. A missing file is fine; a present-but-invalid one is not.
func LoadModesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file modesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for mode, ms := range file.Modes {
		topo, err := TopologyFor(mode)
		if err != nil {
			return err
		}
		if err := topo.Validate(ms.Roles, TurnParams{IterationCap: ms.IterationCap, ConvergenceThreshold: ms.ConvergenceThreshold, Weights: ms.Weights}); err != nil {
			return fmt.Errorf("modes config for %s: %w", mode, err)
		}
		builtinModeDefaults[mode] = ms
	}
	if file.DefaultMode != "" {
		if _, err := TopologyFor(file.DefaultMode); err != nil {
			return err
		}
		builtinDefaultMode = file.DefaultMode
	}
	log.Printf("Loaded mode defaults from %s", path)
	return nil
}
