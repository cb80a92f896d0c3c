package chat

// Settings is an immutable configuration snapshot for one session. It is
// replaced wholesale or through SettingsPatch, never mutated in place.
type Settings struct {
	SelectedModel    string  `json:"selectedModel" yaml:"selectedModel"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	MaxTokens        int     `json:"maxTokens" yaml:"maxTokens"`
	TopP             float64 `json:"topP" yaml:"topP"`
	PresencePenalty  float64 `json:"presencePenalty" yaml:"presencePenalty"`
	FrequencyPenalty float64 `json:"frequencyPenalty" yaml:"frequencyPenalty"`
	SystemPrompt     string  `json:"systemPrompt" yaml:"systemPrompt"`
	EnableTools      bool    `json:"enableTools" yaml:"enableTools"`
	EnableStreaming  bool    `json:"enableStreaming" yaml:"enableStreaming"`
	EnableSpeech     bool    `json:"enableSpeech" yaml:"enableSpeech"`
	AutoScroll       bool    `json:"autoScroll" yaml:"autoScroll"`
	DarkMode         bool    `json:"darkMode" yaml:"darkMode"`
	Language         string  `json:"language" yaml:"language"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		SelectedModel:    "gpt-4",
		Temperature:      0.7,
		MaxTokens:        2048,
		TopP:             1,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		SystemPrompt:     "You are a helpful AI assistant.",
		EnableTools:      true,
		EnableStreaming:  true,
		EnableSpeech:     true,
		AutoScroll:       true,
		DarkMode:         false,
		Language:         "en",
	}
}

// SettingsPatch is a shallow partial of Settings. Decoding a partial JSON
// object into it leaves absent keys nil.
type SettingsPatch struct {
	SelectedModel    *string  `json:"selectedModel,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	SystemPrompt     *string  `json:"systemPrompt,omitempty"`
	EnableTools      *bool    `json:"enableTools,omitempty"`
	EnableStreaming  *bool    `json:"enableStreaming,omitempty"`
	EnableSpeech     *bool    `json:"enableSpeech,omitempty"`
	AutoScroll       *bool    `json:"autoScroll,omitempty"`
	DarkMode         *bool    `json:"darkMode,omitempty"`
	Language         *string  `json:"language,omitempty"`
}

// Apply returns s with every non-nil field of p merged in.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.SelectedModel != nil {
		s.SelectedModel = *p.SelectedModel
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		s.TopP = *p.TopP
	}
	if p.PresencePenalty != nil {
		s.PresencePenalty = *p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		s.FrequencyPenalty = *p.FrequencyPenalty
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	if p.EnableTools != nil {
		s.EnableTools = *p.EnableTools
	}
	if p.EnableStreaming != nil {
		s.EnableStreaming = *p.EnableStreaming
	}
	if p.EnableSpeech != nil {
		s.EnableSpeech = *p.EnableSpeech
	}
	if p.AutoScroll != nil {
		s.AutoScroll = *p.AutoScroll
	}
	if p.DarkMode != nil {
		s.DarkMode = *p.DarkMode
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	return s
}
