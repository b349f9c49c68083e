// Command liora runs the voice agent with a terminal surface: a
// conversation transcript, a typed-prompt input, and live turn state,
// while the orchestrator handles listening, thinking and speaking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	orchestration "github.com/kajovic/liora-core/core"
	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/audio/miniaudio"
	"github.com/kajovic/liora-core/core/audio/portaudio"
	"github.com/kajovic/liora-core/core/config"
	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/llms/anthropic"
	"github.com/kajovic/liora-core/core/memory"
	"github.com/kajovic/liora-core/core/personality"
	"github.com/kajovic/liora-core/core/sessions"
	sessionspg "github.com/kajovic/liora-core/core/sessions/postgres"
	deepgramstt "github.com/kajovic/liora-core/core/speechtotext/deepgram"
	deepgramtts "github.com/kajovic/liora-core/core/texttospeech/deepgram"
)

const defaultConfigPath = "liora.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	textOnly := flag.Bool("text", false, "disable voice input and output")
	mute := flag.Bool("mute", false, "start with spoken output muted")
	flag.Parse()

	if err := run(*configPath, *textOnly, *mute); err != nil {
		fmt.Fprintln(os.Stderr, "liora:", err)
		os.Exit(1)
	}
}

func run(configPath string, textOnly, mute bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The TUI owns the terminal, so the standard logger goes to a file.
	if logFile, err := tea.LogToFile("liora.log", "liora"); err == nil {
		defer logFile.Close()
	}

	apiKey := firstNonEmpty(cfg.Providers.LLM.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return fmt.Errorf("no reasoning API key: set providers.llm.api_key or ANTHROPIC_API_KEY")
	}
	llm := anthropic.NewClient(apiKey, cfg.Providers.LLM.Model)

	stateDir, err := resolveStateDir()
	if err != nil {
		return err
	}

	memoryStore, err := memory.NewStore(firstNonEmpty(cfg.Memory.Dir, filepath.Join(stateDir, "memory")))
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}

	persona, err := loadPersona(cfg, stateDir)
	if err != nil {
		return err
	}

	sessionOpts := []sessions.EngineOption{}
	if dsn := cfg.Sessions.PostgresDSN; dsn != "" {
		archiver, err := sessionspg.NewStore(ctx, dsn)
		if err != nil {
			log.Printf("session archive unavailable, continuing with files only: %v", err)
		} else {
			defer archiver.Close()
			sessionOpts = append(sessionOpts, sessions.WithArchiver(archiver))
		}
	}
	sessionLog, err := sessions.NewEngine(firstNonEmpty(cfg.Sessions.Dir, filepath.Join(stateDir, "sessions")), sessionOpts...)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithLLM(llm),
		orchestration.WithMemory(memoryStore),
		orchestration.WithPersonality(persona),
		orchestration.WithSessionLog(sessionLog),
		orchestration.WithOrchestrationTools(),
		orchestration.WithListeningProfile(cfg.VAD.ListeningProfile(frameDuration(cfg.Audio))),
		orchestration.WithBargeInProfile(cfg.VAD.BargeInProfile()),
		orchestration.WithQueryTimeout(cfg.Turn.QueryTimeout()),
		orchestration.WithPostPlaybackCooldown(cfg.Turn.PostPlaybackCooldown()),
	}
	if cfg.Agent.MaxHistoryTurns > 0 {
		opts = append(opts, orchestration.WithMaxHistoryTurns(cfg.Agent.MaxHistoryTurns*2))
	}
	if !cfg.Turn.Streaming() {
		opts = append(opts, orchestration.WithBatchSynthesis())
	}
	if cfg.Turn.BoundaryChars != "" {
		opts = append(opts, orchestration.WithSentenceBoundaries(cfg.Turn.BoundaryChars))
	}

	if !textOnly {
		voiceOpts, cleanup, err := wireVoice(cfg)
		if err != nil {
			log.Printf("voice unavailable, running text-only: %v", err)
		} else {
			defer cleanup()
			opts = append(opts, voiceOpts...)
		}
	}

	o := orchestration.NewOrchestrator(opts...)
	if mute {
		o.SetSpeaking(false)
	}

	ui := newModel(agentName(cfg, persona), o.SendPrompt, o.Interrupt)
	program := tea.NewProgram(ui, tea.WithAltScreen())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := program.Run()
		o.Close()
		cancelRun()
		return err
	})
	g.Go(func() error {
		defer program.Quit()
		err := o.Orchestrate(runCtx,
			orchestration.OnStateChange(func(event orchestration.StateEvent) { program.Send(stateMsg(event)) }),
			orchestration.OnInterimTranscription(func(transcript string) { program.Send(interimMsg(transcript)) }),
			orchestration.OnTranscription(func(transcript string) { program.Send(userMsg(transcript)) }),
			orchestration.OnReasoning(func(delta string) { program.Send(thoughtMsg(delta)) }),
			orchestration.OnResponse(func(chunk string) { program.Send(chunkMsg(chunk)) }),
			orchestration.OnResponseEnd(func() { program.Send(responseDoneMsg{}) }),
			orchestration.OnInterrupted(func(reason interrupt.Reason) { program.Send(interruptedMsg(reason)) }),
			orchestration.OnError(func(err error) { program.Send(turnErrMsg{err: err}) }),
		)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	distill(apiKey, llm.Model(), persona, memoryStore, sessionLog)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	// A missing default config just means all defaults.
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg := &config.Config{}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, err
}

func loadPersona(cfg *config.Config, stateDir string) (*personality.Engine, error) {
	if cfg.Agent.PersonaPath == "" {
		return personality.NewDefaultEngine(stateDir)
	}
	return personality.NewEngine(cfg.Agent.PersonaPath, stateDir)
}

// wireVoice opens the audio device and the transcription and synthesis
// clients. Any failure leaves the agent in text-only mode.
func wireVoice(cfg *config.Config) ([]orchestration.OrchestratorOption, func(), error) {
	deepgramKey := firstNonEmpty(cfg.Providers.STT.APIKey, cfg.Providers.TTS.APIKey, os.Getenv("DEEPGRAM_API_KEY"))
	if deepgramKey == "" {
		return nil, nil, fmt.Errorf("no speech API key: set providers.stt.api_key or DEEPGRAM_API_KEY")
	}

	device, cleanup, err := openDevice(cfg.Audio)
	if err != nil {
		return nil, nil, err
	}

	sttOpts := []deepgramstt.ClientOption{deepgramstt.WithAPIKey(deepgramKey)}
	if cfg.Providers.STT.Model != "" {
		sttOpts = append(sttOpts, deepgramstt.WithModel(cfg.Providers.STT.Model))
	}
	stt, err := deepgramstt.NewTranscriptionClient(sttOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build transcription client: %w", err)
	}

	tts, err := deepgramtts.NewTextToSpeechClient(
		deepgramtts.WithAPIKey(deepgramKey),
		deepgramtts.WithEncoding(cfg.Audio.EncodingInfo()),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build synthesis client: %w", err)
	}
	if wanted := cfg.Providers.TTS.Model; wanted != "" {
		for _, voice := range deepgramtts.GetAvailableVoices() {
			if string(voice) == wanted {
				tts.SetVoice(voice)
			}
		}
	}

	return []orchestration.OrchestratorOption{
		orchestration.WithAudioDevice(device),
		orchestration.WithSpeechToText(stt),
		orchestration.WithTextToSpeech(tts),
	}, cleanup, nil
}

func openDevice(cfg config.AudioConfig) (orchestration.AudioDevice, func(), error) {
	switch cfg.Backend {
	case config.BackendPortAudio:
		frameSamples := cfg.EncodingInfo().FrameBytes(int(frameDuration(cfg).Milliseconds())) / 2
		client, err := portaudio.NewClient(frameSamples)
		if err != nil {
			return nil, nil, err
		}
		device := newPumpedDevice(client)
		return device, func() {
			_ = device.StopCapture()
			client.Close()
		}, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

// distill folds the finished conversation into the evolving
// personality. Best-effort: a failure costs nothing but drift.
func distill(apiKey, model string, persona *personality.Engine, memoryStore *memory.Store, sessionLog *sessions.Engine) {
	transcript, err := sessionLog.Transcript(40)
	if err != nil || strings.TrimSpace(transcript) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := personality.Distill(ctx, apiKey, model, persona, memoryStore.State(), transcript); err != nil {
		log.Printf("personality distillation skipped: %v", err)
	}
}

func agentName(cfg *config.Config, persona *personality.Engine) string {
	if cfg.Agent.Name != "" {
		return cfg.Agent.Name
	}
	return persona.Name()
}

func frameDuration(cfg config.AudioConfig) time.Duration {
	ms := cfg.FrameDurationMs
	if ms <= 0 {
		ms = audio.DefaultFrameDuration
	}
	return time.Duration(ms) * time.Millisecond
}

func resolveStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".liora")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
