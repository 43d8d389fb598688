package voxwire

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxwire/voxwire/pkg/adapters/stt"
	"github.com/voxwire/voxwire/pkg/adapters/tts"
	"github.com/voxwire/voxwire/pkg/configutil"
	"github.com/voxwire/voxwire/pkg/llm"
	"github.com/voxwire/voxwire/pkg/providers/deepgram"
	"github.com/voxwire/voxwire/pkg/providers/elevenlabs"
	"github.com/voxwire/voxwire/pkg/providers/mock"
	"github.com/voxwire/voxwire/pkg/providers/openai"
	"github.com/voxwire/voxwire/pkg/resilience"
)

type STTFactory func(cfg Config) (stt.Transcriber, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.Adapter, error)

// ProviderRegistry maps vendor names to collaborator factories. The built-in
// vendors are registered up front; applications may override or extend them
// before the engine starts accepting sessions.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{
		stt: map[string]STTFactory{},
		tts: map[string]TTSFactory{},
		llm: map[string]LLMFactory{},
	}
	r.RegisterSTT("deepgram", buildDeepgramSTT)
	r.RegisterSTT("mock", buildMockSTT)
	r.RegisterTTS("elevenlabs", buildElevenLabsTTS)
	r.RegisterTTS("mock", buildMockTTS)
	r.RegisterLLM("openai", buildOpenAILLM)
	r.RegisterLLM("groq", buildGroqLLM)
	r.RegisterLLM("mock", buildMockLLM)
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(name string, cfg Config) (stt.Transcriber, error) {
	factory, ok := r.stt[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("stt provider not registered: %s", name)
	}
	return factory(cfg)
}

func (r *ProviderRegistry) BuildTTS(name string, cfg Config) (tts.Synthesizer, error) {
	factory, ok := r.tts[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("tts provider not registered: %s", name)
	}
	return factory(cfg)
}

func (r *ProviderRegistry) BuildLLM(name string, cfg Config) (llm.Adapter, error) {
	factory, ok := r.llm[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("llm provider not registered: %s", name)
	}
	return factory(cfg)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildDeepgramSTT(cfg Config) (stt.Transcriber, error) {
	var settings struct {
		APIKey   string `mapstructure:"api_key"`
		Model    string `mapstructure:"model"`
		Language string `mapstructure:"language"`
	}
	schema := configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language"},
	}
	if err := configutil.ValidateSettings(cfg.Vendors.STT.Settings, schema); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	return deepgram.New(deepgram.Config{
		APIKey:   settings.APIKey,
		Model:    settings.Model,
		Language: settings.Language,
	}), nil
}

func buildElevenLabsTTS(cfg Config) (tts.Synthesizer, error) {
	var settings struct {
		APIKey     string `mapstructure:"api_key"`
		VoiceID    string `mapstructure:"voice_id"`
		Model      string `mapstructure:"model"`
		SampleRate int    `mapstructure:"sample_rate"`
	}
	schema := configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model", "sample_rate"},
	}
	if err := configutil.ValidateSettings(cfg.Vendors.TTS.Settings, schema); err != nil {
		return nil, fmt.Errorf("elevenlabs settings: %w", err)
	}
	if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
		return nil, fmt.Errorf("elevenlabs settings: %w", err)
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:     settings.APIKey,
		VoiceID:    settings.VoiceID,
		Model:      settings.Model,
		SampleRate: settings.SampleRate,
		ChunkSize:  cfg.Orchestrator.ChunkSize,
	}), nil
}

func buildOpenAILLM(cfg Config) (llm.Adapter, error) {
	settings, err := decodeLLMSettings(cfg)
	if err != nil {
		return nil, err
	}
	if settings.Model == "" {
		settings.Model = "gpt-4o-mini"
	}
	adapter := openai.NewAdapter(settings.APIKey, settings.Model)
	if settings.BaseURL != "" {
		adapter.BaseURL = settings.BaseURL
	}
	return wrapLLM(adapter, settings), nil
}

// buildGroqLLM reuses the OpenAI adapter against Groq's compatible endpoint.
func buildGroqLLM(cfg Config) (llm.Adapter, error) {
	settings, err := decodeLLMSettings(cfg)
	if err != nil {
		return nil, err
	}
	if settings.Model == "" {
		settings.Model = "llama-3.3-70b-versatile"
	}
	adapter := openai.NewAdapter(settings.APIKey, settings.Model)
	adapter.BaseURL = "https://api.groq.com/openai/v1"
	if settings.BaseURL != "" {
		adapter.BaseURL = settings.BaseURL
	}
	return wrapLLM(adapter, settings), nil
}

type llmSettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	Retries           int    `mapstructure:"retries"`
	UseCircuitBreaker bool   `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
}

func decodeLLMSettings(cfg Config) (llmSettings, error) {
	schema := configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "retries", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
	}
	if err := configutil.ValidateSettings(cfg.Vendors.LLM.Settings, schema); err != nil {
		return llmSettings{}, fmt.Errorf("llm settings: %w", err)
	}
	var settings llmSettings
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
		return llmSettings{}, fmt.Errorf("llm settings: %w", err)
	}
	return settings, nil
}

func wrapLLM(adapter llm.Adapter, settings llmSettings) llm.Adapter {
	if settings.Retries > 0 {
		adapter = llm.NewRetryAdapter(adapter, llm.RetryConfig{MaxAttempts: settings.Retries + 1})
	}
	if settings.UseCircuitBreaker {
		breaker := resilience.NewCircuitBreaker(settings.CircuitThreshold, time.Duration(settings.CircuitCooldownMS)*time.Millisecond)
		adapter = llm.NewCircuitBreakerAdapter(adapter, breaker)
	}
	return adapter
}

func buildMockSTT(cfg Config) (stt.Transcriber, error) {
	var settings struct {
		Transcript string `mapstructure:"transcript"`
		DelayMS    int    `mapstructure:"delay_ms"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
		return nil, fmt.Errorf("mock stt settings: %w", err)
	}
	return mock.NewTranscriber(mock.STTConfig{
		Transcript: settings.Transcript,
		Delay:      time.Duration(settings.DelayMS) * time.Millisecond,
	}), nil
}

func buildMockTTS(cfg Config) (tts.Synthesizer, error) {
	var settings struct {
		ChunkCount int `mapstructure:"chunk_count"`
		ChunkSize  int `mapstructure:"chunk_size"`
		DelayMS    int `mapstructure:"delay_ms"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
		return nil, fmt.Errorf("mock tts settings: %w", err)
	}
	return mock.NewSynthesizer(mock.TTSConfig{
		ChunkCount: settings.ChunkCount,
		ChunkSize:  settings.ChunkSize,
		Delay:      time.Duration(settings.DelayMS) * time.Millisecond,
	}), nil
}

func buildMockLLM(cfg Config) (llm.Adapter, error) {
	var settings struct {
		ResponseText string `mapstructure:"response_text"`
		Echo         bool   `mapstructure:"echo"`
	}
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
		return nil, fmt.Errorf("mock llm settings: %w", err)
	}
	return mock.NewLLMAdapter(mock.LLMConfig{
		ResponseText: settings.ResponseText,
		Echo:         settings.Echo,
	}), nil
}
