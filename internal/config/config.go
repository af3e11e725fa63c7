package config

import (
	"fmt"
	"time"
)

// DefaultSystemPrompt is the translation instruction sent as the system
// message. Both %s verbs are filled with the target language.
const DefaultSystemPrompt = `You are a pure translation machine. Translate to %s ONLY.

ABSOLUTE RULES - NO EXCEPTIONS:
1. OUTPUT = TRANSLATION ONLY (nothing else)
2. NO greetings, NO responses, NO conversations
3. NO explanations, NO comments, NO extra words
4. NO "Here is", NO "The translation is", NO formatting
5. If already in %s, output unchanged
6. Preserve emojis, special characters, and tone exactly

Translate now:
`

// Config holds all parley configuration. Field names follow the on-disk
// JSON keys so existing config files keep working.
type Config struct {
	TranslationEnabled     bool   `json:"translationEnabled"`
	AutoTranslateIncoming  bool   `json:"autoTranslateIncoming"`
	AutoTranslateOutgoing  bool   `json:"autoTranslateOutgoing"`
	TargetLanguage         string `json:"targetLanguage"`
	OutgoingTargetLanguage string `json:"outgoingTargetLanguage"`

	LLMServerURL string `json:"llmServerUrl"`
	UseOnlineAPI bool   `json:"useOnlineApi"`
	OnlineAPIURL string `json:"onlineApiUrl"`
	OnlineAPIKey string `json:"onlineApiKey"`

	SystemPrompt    string `json:"systemPrompt"`
	ChatHistorySize int    `json:"chatHistorySize"`
	ContextMessages int    `json:"contextMessages"`
	RAGEnabled      bool   `json:"ragEnabled"`
	RAGMaxEntries   int    `json:"ragMaxEntries"`

	TranslationCacheSize int `json:"translationCacheSize"`

	RequestTimeout             int `json:"requestTimeout"`             // ms
	OutgoingTranslationTimeout int `json:"outgoingTranslationTimeout"` // ms

	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`

	DebugMode bool `json:"debugMode"`

	// Reserved: accepted and persisted, no effect.
	LoadFullCacheOnJoin bool `json:"loadFullCacheOnJoin"`
	MaxCacheLoadOnJoin  int  `json:"maxCacheLoadOnJoin"`

	AutoStartLlamaServer bool   `json:"autoStartLlamaServer"`
	LlamaServerPort      int    `json:"llamaServerPort"`
	LlamaServerHost      string `json:"llamaServerHost"`
	LlamaContextSize     int    `json:"llamaContextSize"`
	LlamaGPULayers       int    `json:"llamaGpuLayers"`
	LlamaBatchSize       int    `json:"llamaBatchSize"`
	LlamaThreads         int    `json:"llamaThreads"`
	LlamaParallel        int    `json:"llamaParallel"`
	LlamaMainGPU         int    `json:"llamaMainGpu"`
	LlamaGPUID           int    `json:"llamaGpuId"` // -1 = all GPUs visible
	LlamaModelFile       string `json:"llamaModelFile"`
	LlamaMetrics         bool   `json:"llamaMetrics"`
	LlamaServerPath      string `json:"llamaServerPath"` // empty = <data_dir>/llama/llama-server

	DataDir string `json:"dataDir"` // empty = DefaultDataDir()
	APIBind string `json:"apiBind"`
	APIPort int    `json:"apiPort"`

	JournalRetentionDays int `json:"journalRetentionDays"` // 0 keeps every event
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		TranslationEnabled:     true,
		AutoTranslateIncoming:  true,
		AutoTranslateOutgoing:  false,
		TargetLanguage:         "Japanese",
		OutgoingTargetLanguage: "English",

		LLMServerURL: "http://localhost:8080",

		SystemPrompt:    DefaultSystemPrompt,
		ChatHistorySize: 50,
		ContextMessages: 3,
		RAGEnabled:      true,
		RAGMaxEntries:   1000,

		TranslationCacheSize: 10000,

		RequestTimeout:             10000,
		OutgoingTranslationTimeout: 5000,

		MaxTokens:   256,
		Temperature: 0.3,
		TopP:        0.9,

		MaxCacheLoadOnJoin: 500,

		AutoStartLlamaServer: true,
		LlamaServerPort:      8080,
		LlamaServerHost:      "0.0.0.0",
		LlamaContextSize:     4096,
		LlamaGPULayers:       -1,
		LlamaBatchSize:       512,
		LlamaThreads:         8,
		LlamaParallel:        4,
		LlamaMainGPU:         0,
		LlamaGPUID:           -1,
		LlamaModelFile:       "gemma-3-4b-q4.gguf",

		APIBind: "127.0.0.1",
		APIPort: 37778,

		JournalRetentionDays: 30,
	}
}

// Validate resets out-of-range values to their defaults and reports which
// keys were reset. A nil result means the config was already valid.
func (c *Config) Validate() []string {
	def := Default()
	var reset []string

	positive := []struct {
		key string
		val *int
		def int
	}{
		{"chatHistorySize", &c.ChatHistorySize, def.ChatHistorySize},
		{"ragMaxEntries", &c.RAGMaxEntries, def.RAGMaxEntries},
		{"translationCacheSize", &c.TranslationCacheSize, def.TranslationCacheSize},
		{"requestTimeout", &c.RequestTimeout, def.RequestTimeout},
		{"outgoingTranslationTimeout", &c.OutgoingTranslationTimeout, def.OutgoingTranslationTimeout},
		{"maxTokens", &c.MaxTokens, def.MaxTokens},
		{"llamaServerPort", &c.LlamaServerPort, def.LlamaServerPort},
		{"llamaContextSize", &c.LlamaContextSize, def.LlamaContextSize},
		{"llamaBatchSize", &c.LlamaBatchSize, def.LlamaBatchSize},
		{"llamaThreads", &c.LlamaThreads, def.LlamaThreads},
		{"llamaParallel", &c.LlamaParallel, def.LlamaParallel},
		{"apiPort", &c.APIPort, def.APIPort},
	}
	for _, p := range positive {
		if *p.val <= 0 {
			*p.val = p.def
			reset = append(reset, p.key)
		}
	}

	if c.ContextMessages < 0 {
		c.ContextMessages = def.ContextMessages
		reset = append(reset, "contextMessages")
	}
	if c.JournalRetentionDays < 0 {
		c.JournalRetentionDays = def.JournalRetentionDays
		reset = append(reset, "journalRetentionDays")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		c.Temperature = def.Temperature
		reset = append(reset, "temperature")
	}
	if c.TopP <= 0 || c.TopP > 1 {
		c.TopP = def.TopP
		reset = append(reset, "topP")
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = def.TargetLanguage
		reset = append(reset, "targetLanguage")
	}
	if c.OutgoingTargetLanguage == "" {
		c.OutgoingTargetLanguage = def.OutgoingTargetLanguage
		reset = append(reset, "outgoingTargetLanguage")
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = def.SystemPrompt
		reset = append(reset, "systemPrompt")
	}
	if c.LLMServerURL == "" {
		c.LLMServerURL = def.LLMServerURL
		reset = append(reset, "llmServerUrl")
	}
	if c.LlamaModelFile == "" {
		c.LlamaModelFile = def.LlamaModelFile
		reset = append(reset, "llamaModelFile")
	}
	return reset
}

// RequestTimeoutDuration returns requestTimeout as a time.Duration.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// OutgoingTimeoutDuration returns outgoingTranslationTimeout as a time.Duration.
func (c *Config) OutgoingTimeoutDuration() time.Duration {
	return time.Duration(c.OutgoingTranslationTimeout) * time.Millisecond
}

// JournalRetention returns journalRetentionDays as a time.Duration.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionDays) * 24 * time.Hour
}

// ListenAddr returns the bind:port address of the control API.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIBind, c.APIPort)
}
