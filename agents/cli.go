package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	pkg "github.com/voxbridge/voicesession"
	"github.com/voxbridge/voicesession/shared"
)

// CLIAgent runs a voice session from a terminal: it wires the full manager
// callback surface into printed transcript lines and answers tool calls with
// a stub acknowledgement so the conversation keeps moving.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	manager *pkg.Manager

	mu        sync.Mutex
	streaming bool
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	tokens pkg.TokenProvider,
	cfg *pkg.SessionConfig,
	printer *shared.Printer,
	baseURL string,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if tokens == nil {
		return shared.ErrNoTokenProvider
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning CLI agent")
	a.println("🤖 Spawning voice agent...\n", 0)

	a.println("📋 Session Config\n", 0)
	yamlBytes, err := yaml.MarshalWithOptions(cfg, yaml.UseJSONMarshaler())
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
		return err
	}
	a.println("", 0)

	callbacks := pkg.Callbacks{
		OnStateChange: func(s pkg.ConnectionState) {
			a.println(fmt.Sprintf("🔌 %s", s), 0)
		},
		OnTranscript: func(e pkg.TranscriptEntry) {
			a.endStreaming()
			icon := "🧑"
			if e.Role == pkg.RoleAssistant {
				icon = "🤖"
			}
			a.println(fmt.Sprintf("%s %s", icon, e.Text), 0)
		},
		OnStreamingChunk: func(chunk string) {
			if chunk == "" {
				a.endStreaming()
				return
			}
			a.mu.Lock()
			a.streaming = true
			a.mu.Unlock()
			a.logger.Debug("streaming chunk", zap.Int("len", len(chunk)))
		},
		OnResponseStarted: func() {
			a.logger.Debug("response started")
		},
		OnToolCall: func(inv pkg.ToolInvocation) {
			a.println(fmt.Sprintf("🔧 tool call %s (%s)", inv.Name, inv.CallID), 0)
			if err := a.manager.SendToolResult(inv.CallID, map[string]any{
				"ok":    false,
				"error": "tool not available in CLI session",
			}); err != nil {
				a.logger.Error("answering tool call", err)
			}
		},
		OnMicLevel: func(s pkg.LevelSample) {
			a.logger.Trace("mic level", zap.Float64("level", s.Level))
		},
		OnError: func(err error) {
			a.println(fmt.Sprintf("❌ %v", err), 0)
		},
	}

	a.manager, err = pkg.NewManager(logger, tokens, cfg, callbacks, baseURL)
	if err != nil {
		a.logger.Error("creating session manager", err)
		return err
	}

	a.println("🎤 Connecting (microphone access will be requested)...", 0)
	if err := a.manager.Connect(ctx); err != nil {
		a.logger.Error("connecting session", err)
		a.println("❌ Unable to start the session. Check microphone permission and credentials.\n", 0)
		return err
	}
	a.println("✅ Session connected. Speak, or press Ctrl+C to quit.\n", 0)
	return nil
}

// Done is closed when the session ends for any reason.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.manager.Done()
}

func (a *CLIAgent) Close() error {
	if a.manager != nil {
		a.manager.Disconnect()
	}
	return nil
}

func (a *CLIAgent) endStreaming() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streaming = false
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}
