package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON/YAML config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db"`   // database connection string
	Dev  bool   `json:"dev"`  // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr"` // HTTP listen address

	// Game
	Roles             []string `json:"roles"`              // roles enabled in new lobbies
	MinPlayers        int      `json:"min_players"`        // smallest roster that can start
	WerewolfRatio     int      `json:"werewolf_ratio"`     // players per werewolf
	NightSeconds      int      `json:"night_seconds"`      // night actions window
	WitchSeconds      int      `json:"witch_seconds"`      // witch window after the night window
	DiscussionSeconds int      `json:"discussion_seconds"` // discussion and voting window
	Moderators        []string `json:"moderators"`         // player names allowed to force-end games

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogDB        bool   `json:"log_db"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model"`       // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url"`  // Ollama server URL
	StorytellerURL         string `json:"storyteller_url"`         // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key"`     // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking"`    // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key"`            // API key for groq provider
}

// GameConfig is the part of the configuration the sessions read.
type GameConfig struct {
	Roles            []Role
	MinPlayers       int
	WerewolfRatio    int
	NightWindow      time.Duration
	WitchWindow      time.Duration
	DiscussionWindow time.Duration
	Moderators       []string
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

// toGameConfig validates role names; unknown ones are logged and dropped.
func (cfg AppConfig) toGameConfig() GameConfig {
	gc := GameConfig{
		MinPlayers:       cfg.MinPlayers,
		WerewolfRatio:    cfg.WerewolfRatio,
		NightWindow:      time.Duration(cfg.NightSeconds) * time.Second,
		WitchWindow:      time.Duration(cfg.WitchSeconds) * time.Second,
		DiscussionWindow: time.Duration(cfg.DiscussionSeconds) * time.Second,
		Moderators:       cfg.Moderators,
	}
	for _, name := range cfg.Roles {
		r, err := ParseRole(strings.TrimSpace(name))
		if err != nil {
			log.Printf("Config: %v", err)
			continue
		}
		gc.Roles = append(gc.Roles, r)
	}
	return gc
}

// defaultConfig offers every role. A game's creator narrows it down in the lobby.
func defaultConfig() AppConfig {
	roles := make([]string, 0, len(AllRoles))
	for _, r := range AllRoles {
		roles = append(roles, string(r))
	}
	return AppConfig{
		DB:                   "file::memory:?cache=shared",
		Addr:                 ":8080",
		Roles:                roles,
		MinPlayers:           4,
		WerewolfRatio:        4,
		NightSeconds:         60,
		WitchSeconds:         30,
		DiscussionSeconds:    120,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// splitList parses a comma separated env or flag value.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// loadConfig builds a config by layering: defaults → env vars → config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Config: invalid %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := envStr("ROLES"); v != "" {
		cfg.Roles = splitList(v)
	}
	envInt("MIN_PLAYERS", &cfg.MinPlayers)
	envInt("WEREWOLF_RATIO", &cfg.WerewolfRatio)
	envInt("NIGHT_SECONDS", &cfg.NightSeconds)
	envInt("WITCH_SECONDS", &cfg.WitchSeconds)
	envInt("DISCUSSION_SECONDS", &cfg.DiscussionSeconds)
	if v := envStr("MODERATORS"); v != "" {
		cfg.Moderators = splitList(v)
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_DB"); ok {
		cfg.LogDB = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("STORYTELLER_PROVIDER"); v != "" {
		cfg.StorytellerProvider = v
	}
	if v := envStr("STORYTELLER_MODEL"); v != "" {
		cfg.StorytellerModel = v
	}
	if v := envStr("STORYTELLER_OLLAMA_URL"); v != "" {
		cfg.StorytellerOllamaURL = v
	}
	if v := envStr("STORYTELLER_URL"); v != "" {
		cfg.StorytellerURL = v
	}
	if v := envStr("STORYTELLER_API_KEY"); v != "" {
		cfg.StorytellerAPIKey = v
	}
	if v := envStr("STORYTELLER_TEMPERATURE"); v != "" {
		cfg.StorytellerTemperature = v
	}
	if v := envStr("STORYTELLER_THINKING"); v != "" {
		cfg.StorytellerThinking = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 2: config file; only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		overlay, err := parseOverlay(configPath, data)
		if err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// parseOverlay reads a JSON or YAML (by extension) config file into raw JSON fields.
func parseOverlay(path string, data []byte) (map[string]json.RawMessage, error) {
	var overlay map[string]json.RawMessage
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		overlay = make(map[string]json.RawMessage, len(doc))
		for k, v := range doc {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			overlay[k] = raw
		}
	default:
		if err := json.Unmarshal(data, &overlay); err != nil {
			return nil, err
		}
	}
	return overlay, nil
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	set := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Printf("Config: invalid %s: %v", key, err)
			}
		}
	}
	set("db", &cfg.DB)
	set("dev", &cfg.Dev)
	set("addr", &cfg.Addr)
	set("roles", &cfg.Roles)
	set("min_players", &cfg.MinPlayers)
	set("werewolf_ratio", &cfg.WerewolfRatio)
	set("night_seconds", &cfg.NightSeconds)
	set("witch_seconds", &cfg.WitchSeconds)
	set("discussion_seconds", &cfg.DiscussionSeconds)
	set("moderators", &cfg.Moderators)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_db", &cfg.LogDB)
	set("log_ws", &cfg.LogWS)
	set("log_debug", &cfg.LogDebug)
	set("storyteller_provider", &cfg.StorytellerProvider)
	set("storyteller_model", &cfg.StorytellerModel)
	set("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	set("storyteller_url", &cfg.StorytellerURL)
	set("storyteller_api_key", &cfg.StorytellerAPIKey)
	set("storyteller_temperature", &cfg.StorytellerTemperature)
	set("storyteller_thinking", &cfg.StorytellerThinking)
	set("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath             *string
	db                     *string
	dev                    *bool
	addr                   *string
	roles                  *string
	minPlayers             *int
	werewolfRatio          *int
	nightSeconds           *int
	witchSeconds           *int
	discussionSeconds      *int
	moderators             *string
	logOutputDir           *string
	logRequests            *bool
	logDB                  *bool
	logWS                  *bool
	logDebug               *bool
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their values.
// Parse fs after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configPath:             fs.String("config", "config.json", "path to JSON or YAML config file"),
		db:                     fs.String("db", "", "database connection string"),
		dev:                    fs.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		roles:                  fs.String("roles", "", "comma separated roles enabled in new lobbies"),
		minPlayers:             fs.Int("min-players", 0, "smallest roster that can start a game"),
		werewolfRatio:          fs.Int("werewolf-ratio", 0, "players per werewolf"),
		nightSeconds:           fs.Int("night-seconds", 0, "night action window in seconds"),
		witchSeconds:           fs.Int("witch-seconds", 0, "witch window in seconds"),
		discussionSeconds:      fs.Int("discussion-seconds", 0, "discussion and voting window in seconds"),
		moderators:             fs.String("moderators", "", "comma separated player names allowed to end games"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:                  fs.Bool("log-db", false, "log database dumps"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               fs.Bool("log-debug", false, "enable debug logging"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/file values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "roles":
			cfg.Roles = splitList(*fv.roles)
		case "min-players":
			cfg.MinPlayers = *fv.minPlayers
		case "werewolf-ratio":
			cfg.WerewolfRatio = *fv.werewolfRatio
		case "night-seconds":
			cfg.NightSeconds = *fv.nightSeconds
		case "witch-seconds":
			cfg.WitchSeconds = *fv.witchSeconds
		case "discussion-seconds":
			cfg.DiscussionSeconds = *fv.discussionSeconds
		case "moderators":
			cfg.Moderators = splitList(*fv.moderators)
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
