// Package tts implements the text_to_speech tool on the OpenAI speech API.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Config holds TTS configuration.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL is the API base URL (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`

	// Model is the TTS model to use.
	// Options: "tts-1", "tts-1-hd", "gpt-4o-mini-tts"
	// Default: "tts-1"
	Model string `json:"model,omitempty" yaml:"model"`

	// Voice is the default voice.
	// Default: "alloy"
	Voice string `json:"voice,omitempty" yaml:"voice"`

	// Speed is the speech speed (0.25 to 4.0).
	// Default: 1.0
	Speed float64 `json:"speed,omitempty" yaml:"speed"`

	// MaxTextLength is the maximum number of characters synthesized.
	// Longer text is truncated.
	// Default: 4096
	MaxTextLength int `json:"max_text_length,omitempty" yaml:"max_text_length"`

	// Timeout bounds a single synthesis request.
	// Default: 30s
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	// OutputDir is the directory for generated audio files.
	// Default: <temp dir>/parrot-tts
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir"`

	// RetainFor is how long generated files are kept before pruning.
	// Default: 1h
	RetainFor time.Duration `json:"retain_for,omitempty" yaml:"retain_for"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:         string(openai.TTSModel1),
		Voice:         string(openai.VoiceAlloy),
		Speed:         1.0,
		MaxTextLength: 4096,
		Timeout:       30 * time.Second,
		OutputDir:     filepath.Join(os.TempDir(), "parrot-tts"),
		RetainFor:     time.Hour,
	}
}

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.Speed == 0 {
		c.Speed = d.Speed
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.RetainFor <= 0 {
		c.RetainFor = d.RetainFor
	}
}

// Validate checks an enabled configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("tts: api key is required")
	}
	if c.Speed < 0.25 || c.Speed > 4.0 {
		return errors.New("tts: speed must be between 0.25 and 4.0")
	}
	if !IsVoice(c.Voice) {
		return fmt.Errorf("tts: unknown voice %q", c.Voice)
	}
	return nil
}

// AvailableVoices returns the OpenAI TTS voices.
func AvailableVoices() []string {
	return []string{
		string(openai.VoiceAlloy),
		string(openai.VoiceEcho),
		string(openai.VoiceFable),
		string(openai.VoiceOnyx),
		string(openai.VoiceNova),
		string(openai.VoiceShimmer),
	}
}

// IsVoice reports whether name is a known voice.
func IsVoice(name string) bool {
	return slices.Contains(AvailableVoices(), name)
}

// Synthesizer writes speech audio files.
type Synthesizer struct {
	config Config
	client *openai.Client
	now    func() time.Time
}

// NewSynthesizer builds a synthesizer, filling config defaults.
func NewSynthesizer(config Config) *Synthesizer {
	config.ApplyDefaults()
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &Synthesizer{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		now:    time.Now,
	}
}

// Synthesize converts text to an mp3 file and returns its path. It also
// prunes files older than RetainFor from the output directory.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("tts: text is empty")
	}
	if utf8.RuneCountInString(text) > s.config.MaxTextLength {
		text = string([]rune(text)[:s.config.MaxTextLength])
	}
	if voice == "" {
		voice = s.config.Voice
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          s.config.Speed,
	})
	if err != nil {
		return "", fmt.Errorf("tts: create speech: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("tts: create output dir: %w", err)
	}
	s.prune()

	path := filepath.Join(s.config.OutputDir, "tts-"+uuid.NewString()+".mp3")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("tts: create output file: %w", err)
	}
	if _, err := io.Copy(file, resp); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("tts: write audio: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("tts: write audio: %w", err)
	}
	return path, nil
}

func (s *Synthesizer) prune() {
	entries, err := os.ReadDir(s.config.OutputDir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-s.config.RetainFor)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "tts-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(s.config.OutputDir, entry.Name()))
	}
}
