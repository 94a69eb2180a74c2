// Package speech plays gesture phrases through a text-to-speech backend.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	BackendCommand = "command"
	BackendNone    = "none"

	DefaultCommand = "espeak"
	DefaultRate    = 150
	DefaultVolume  = 0.8
)

var ErrUnknownBackend = errors.New("speech: unknown backend")

// Synthesizer speaks a phrase and returns once playback has finished.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Config selects the speech backend. Args replaces the generated rate and
// volume flags when set.
type Config struct {
	Backend string   `yaml:"backend"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Rate    int      `yaml:"rate"`
	Volume  float64  `yaml:"volume"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendCommand,
		Command: DefaultCommand,
		Rate:    DefaultRate,
		Volume:  DefaultVolume,
	}
}

// New builds the synthesizer selected by cfg.Backend.
func New(cfg Config, logger *zap.Logger) (Synthesizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "", BackendCommand:
		return NewCommandSynthesizer(cfg)
	case BackendNone:
		return &LogSynthesizer{logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// CommandSynthesizer runs a TTS binary once per phrase, passing the phrase
// as the final argument after "--" so it is never parsed as an option.
type CommandSynthesizer struct {
	command string
	args    []string
}

// NewCommandSynthesizer builds espeak-style arguments from the rate and
// volume unless explicit args are configured. Volume is 0..1 and maps onto
// espeak's 0..200 amplitude scale.
func NewCommandSynthesizer(cfg Config) (*CommandSynthesizer, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = DefaultCommand
	}
	args := cfg.Args
	if len(args) == 0 {
		rate := cfg.Rate
		if rate <= 0 {
			rate = DefaultRate
		}
		volume := cfg.Volume
		if volume <= 0 || volume > 1 {
			volume = DefaultVolume
		}
		args = []string{"-s", strconv.Itoa(rate), "-a", strconv.Itoa(int(math.Round(volume * 200)))}
	}
	return &CommandSynthesizer{command: command, args: append([]string(nil), args...)}, nil
}

// Args returns the argv passed to the command for text.
func (c *CommandSynthesizer) Args(text string) []string {
	return append(append([]string(nil), c.args...), "--", text)
}

func (c *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, c.command, c.Args(text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c.command, err, msg)
		}
		return fmt.Errorf("%s: %w", c.command, err)
	}
	return nil
}

// LogSynthesizer only logs the phrase. Used on headless hosts.
type LogSynthesizer struct {
	logger *zap.Logger
}

func (l *LogSynthesizer) Speak(_ context.Context, text string) error {
	l.logger.Info("speak", zap.String("phrase", text))
	return nil
}
