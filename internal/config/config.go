package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Transport TransportConfig
	Session   SessionConfig
	Storage   StorageConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	transport, err := loadTransportConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Transport: transport,
		Session:   session,
		Storage:   storage,
		Log:       logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	shutdown, err := parseDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, ShutdownTimeout: shutdown}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: shutdown}, nil
}

// AI providers.
const (
	ProviderArk   = "ark"
	ProviderGenAI = "genai"
	ProviderEcho  = "echo"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider        string
	APIKey          string
	AccessKey       string
	SecretKey       string
	Model           string
	BaseURL         string
	Region          string
	GenAIAPIKey     string
	GenAIModel      string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	CostPer1KTokens float64
	Tools           []string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	cost := 0.0
	if override, err := parseOptionalFloatEnv("AI_COST_PER_1K_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		cost = *override
	}

	cfg := AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           strings.TrimSpace(os.Getenv("Model")),
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		GenAIAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GenAIModel:      getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		CostPer1KTokens: cost,
		Tools:           parseListEnv("AI_TOOLS"),
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch provider {
	case "":
		// 未显式指定时按已有凭证推断。
		switch {
		case cfg.Enabled():
			provider = ProviderArk
		case cfg.GenAIAPIKey != "":
			provider = ProviderGenAI
		default:
			provider = ProviderEcho
		}
	case ProviderArk, ProviderGenAI, ProviderEcho:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}
	cfg.Provider = provider

	return cfg, nil
}

// TransportConfig 描述实时通道（WebSocket）客户端配置。
type TransportConfig struct {
	URL               string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ReadTimeout       time.Duration
	HandshakeTimeout  time.Duration
}

func loadTransportConfig() (TransportConfig, error) {
	cfg := TransportConfig{
		URL:         getEnvOrDefault("TRANSPORT_URL", "ws://localhost:8080/api/ws"),
		MaxAttempts: 5,
	}

	var err error
	if cfg.BaseDelay, err = parseDurationEnv("TRANSPORT_BASE_DELAY", time.Second); err != nil {
		return TransportConfig{}, err
	}
	if cfg.MaxDelay, err = parseDurationEnv("TRANSPORT_MAX_DELAY", 30*time.Second); err != nil {
		return TransportConfig{}, err
	}
	if cfg.HeartbeatInterval, err = parseDurationEnv("TRANSPORT_HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return TransportConfig{}, err
	}
	if cfg.AckTimeout, err = parseDurationEnv("TRANSPORT_ACK_TIMEOUT", 30*time.Second); err != nil {
		return TransportConfig{}, err
	}
	if cfg.ReadTimeout, err = parseDurationEnv("TRANSPORT_READ_TIMEOUT", 75*time.Second); err != nil {
		return TransportConfig{}, err
	}
	if cfg.HandshakeTimeout, err = parseDurationEnv("TRANSPORT_HANDSHAKE_TIMEOUT", 20*time.Second); err != nil {
		return TransportConfig{}, err
	}

	if attempts, err := parseOptionalIntEnv("TRANSPORT_MAX_ATTEMPTS"); err != nil {
		return TransportConfig{}, err
	} else if attempts != nil {
		if *attempts < 1 {
			cfg.MaxAttempts = 1
		} else {
			cfg.MaxAttempts = *attempts
		}
	}

	return cfg, nil
}

// SessionConfig 描述会话控制器的限制与默认设置。
type SessionConfig struct {
	MaxAttachmentBytes int64
	CompletionTimeout  time.Duration
	Defaults           chat.Settings
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		MaxAttachmentBytes: 10 << 20,
		Defaults:           chat.DefaultSettings(),
	}

	if limit, err := parseOptionalIntEnv("SESSION_MAX_ATTACHMENT_BYTES"); err != nil {
		return SessionConfig{}, err
	} else if limit != nil && *limit > 0 {
		cfg.MaxAttachmentBytes = int64(*limit)
	}

	timeout, err := parseDurationEnv("SESSION_COMPLETION_TIMEOUT", 60*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.CompletionTimeout = timeout

	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")); path != "" {
		defaults, err := LoadDefaults(path)
		if err != nil {
			return SessionConfig{}, err
		}
		cfg.Defaults = defaults
	}

	return cfg, nil
}

// settingsFile is the YAML document referenced by CHAT_CONFIG_FILE.
type settingsFile struct {
	Settings chat.Settings `yaml:"settings"`
}

// LoadDefaults 从 YAML 文件读取默认会话设置，缺省字段沿用内置默认值。
func LoadDefaults(path string) (chat.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	file := settingsFile{Settings: chat.DefaultSettings()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return chat.Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return file.Settings, nil
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// StorageConfig 描述持久化后端。
type StorageConfig struct {
	Backend string
	Path    string
}

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageMemory))
	if backend != StorageMemory && backend != StorageSQLite {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value %q", backend)
	}
	return StorageConfig{
		Backend: backend,
		Path:    getEnvOrDefault("STORAGE_PATH", "data/chat.db"),
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Development: dev,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 Go 时长格式（如 "1500ms"）或纯数字秒数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
