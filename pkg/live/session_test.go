package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/persona-live/pkg/audioio"
	"github.com/teslashibe/persona-live/pkg/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type completedTurn struct {
	user      string
	assistant string
}

type harness struct {
	factory *transport.MockFactory
	mic     *audioio.MockSource
	speaker *audioio.MockSink
	session *Session

	mu    sync.Mutex
	turns []completedTurn
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		factory: &transport.MockFactory{},
		mic:     audioio.NewMockSource(audioio.DefaultConfig(), nil, audioio.WithManualFrames()),
		speaker: audioio.NewMockSink(audioio.PlaybackConfig(), nil),
	}
	cfg := Config{
		AssistantID:       "asst-1",
		APIKey:            "test-key",
		SystemInstruction: "You are an AI assistant named Nova.",
		OnTurnComplete: func(user, assistant string) {
			h.mu.Lock()
			h.turns = append(h.turns, completedTurn{user, assistant})
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg, h.factory.New, h.mic, h.speaker)
	require.NoError(t, err)
	h.session = s
	t.Cleanup(func() { s.Close() })
	return h
}

func (h *harness) start(t *testing.T) *transport.Mock {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	require.Equal(t, StatusActive, h.session.Snapshot().Status)
	return h.factory.Last()
}

func (h *harness) completed() []completedTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]completedTurn(nil), h.turns...)
}

func loud() audioio.AudioChunk {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = 10000
		if i%2 == 1 {
			samples[i] = -10000
		}
	}
	return audioio.AudioChunk{Samples: samples, SampleRate: audioio.InputSampleRate, Channels: 1}
}

func quiet() audioio.AudioChunk {
	return audioio.AudioChunk{Samples: make([]int16, 1600), SampleRate: audioio.InputSampleRate, Channels: 1}
}

func TestNew_Validation(t *testing.T) {
	mic := audioio.NewMockSource(audioio.DefaultConfig(), nil)
	speaker := audioio.NewMockSink(audioio.PlaybackConfig(), nil)
	factory := &transport.MockFactory{}

	_, err := New(Config{APIKey: "k"}, nil, mic, speaker)
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = New(Config{}, factory.New, mic, speaker)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(Config{APIKey: "k", Voice: "Robot"}, factory.New, mic, speaker)
	assert.ErrorIs(t, err, ErrUnknownVoice)

	s, err := New(Config{APIKey: "k"}, factory.New, mic, speaker)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, StatusIdle, s.Snapshot().Status)
}

func TestSession_InstructionsPerStart(t *testing.T) {
	calls := 0
	h := newHarness(t, func(c *Config) {
		c.Instructions = func(context.Context) string {
			calls++
			if calls == 1 {
				return "first"
			}
			return "second"
		}
	})

	tr := h.start(t)
	assert.Equal(t, "first", tr.Config().SystemInstruction)
	require.NoError(t, h.session.Stop())

	tr = h.start(t)
	assert.Equal(t, "second", tr.Config().SystemInstruction)
}

func TestSession_StartStop(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Voice = VoiceKore })
	tr := h.start(t)

	cfg := tr.Config()
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, "Kore", cfg.Voice)
	assert.Equal(t, "You are an AI assistant named Nova.", cfg.SystemInstruction)
	assert.Equal(t, "test-key", cfg.APIKey)
	require.Len(t, cfg.Tools, 2)
	assert.Equal(t, ToolSaveToMemory, cfg.Tools[0].Name)
	assert.Equal(t, ToolWebSearch, cfg.Tools[1].Name)
	assert.True(t, h.mic.Running())

	require.NoError(t, h.session.Start(context.Background()))
	assert.Len(t, h.factory.Created(), 1, "Start while ACTIVE must not open a second connection")

	require.NoError(t, h.session.Stop())
	snap := h.session.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.IsSpeaking)
	assert.True(t, tr.Closed())
	assert.False(t, h.mic.Running())

	require.NoError(t, h.session.Stop())
}

func TestSession_StartWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, nil)
	h.factory.OpenFunc = func(ctx context.Context, cfg transport.Config) error {
		<-release
		return nil
	}

	first := make(chan error, 1)
	go func() { first <- h.session.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.session.Snapshot().Status == StatusConnecting
	}, waitFor, tick)

	require.NoError(t, h.session.Start(context.Background()))
	close(release)

	require.NoError(t, <-first)
	assert.Equal(t, StatusActive, h.session.Snapshot().Status)
	assert.Len(t, h.factory.Created(), 1)
}

func TestSession_StopDuringConnecting(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.OpenFunc = func(ctx context.Context, cfg transport.Config) error {
		<-ctx.Done()
		return ctx.Err()
	}

	started := make(chan error, 1)
	go func() { started <- h.session.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.session.Snapshot().Status == StatusConnecting
	}, waitFor, tick)

	require.NoError(t, h.session.Stop())
	assert.ErrorIs(t, <-started, ErrStartAborted)

	snap := h.session.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.Error)
	assert.True(t, h.factory.Last().Closed())
	assert.False(t, h.mic.Running())
}

func TestSession_HandshakeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.OpenFunc = func(ctx context.Context, cfg transport.Config) error {
		return &transport.APIError{Code: 1008, Message: "API key not valid"}
	}

	err := h.session.Start(context.Background())
	var herr *HandshakeError
	require.ErrorAs(t, err, &herr)
	assert.False(t, herr.IsRetryable())

	snap := h.session.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, msgHandshakeRejected, snap.Error)
	assert.False(t, h.mic.Running())

	h.factory.OpenFunc = nil
	h.start(t)
	assert.Empty(t, h.session.Snapshot().Error)
	assert.Len(t, h.factory.Created(), 2)
}

func TestSession_HandshakeTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HandshakeTimeout = 30 * time.Millisecond })
	h.factory.OpenFunc = func(ctx context.Context, cfg transport.Config) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := h.session.Start(context.Background())
	var herr *HandshakeError
	require.ErrorAs(t, err, &herr)
	assert.True(t, herr.IsRetryable())
	assert.Equal(t, msgHandshakeFailed, h.session.Snapshot().Error)
}

func TestSession_TurnFinalizesOnce(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateUserText("What's the ")
	tr.SimulateUserText("weather?")
	tr.SimulateAssistantText("Let me ")
	tr.SimulateAssistantText("check.")

	require.Eventually(t, func() bool {
		snap := h.session.Snapshot()
		return snap.UserTranscript == "What's the weather?" && snap.AssistantTranscript == "Let me check."
	}, waitFor, tick)

	tr.SimulateTurnEnd()
	tr.SimulateTurnEnd()

	require.Eventually(t, func() bool { return len(h.completed()) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	turns := h.completed()
	require.Len(t, turns, 1)
	assert.Equal(t, completedTurn{"What's the weather?", "Let me check."}, turns[0])

	snap := h.session.Snapshot()
	assert.Empty(t, snap.UserTranscript)
	assert.Empty(t, snap.AssistantTranscript)
}

func TestSession_StopDiscardsUnfinishedTurn(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateUserText("Remember that")
	require.Eventually(t, func() bool {
		return h.session.Snapshot().UserTranscript == "Remember that"
	}, waitFor, tick)

	require.NoError(t, h.session.Stop())
	assert.Empty(t, h.completed())
	assert.Empty(t, h.session.Snapshot().UserTranscript)
}

func TestSession_StopFromTurnHandler(t *testing.T) {
	stopped := make(chan error, 1)
	var h *harness
	h = newHarness(t, func(c *Config) {
		c.OnTurnComplete = func(user, assistant string) {
			stopped <- h.session.Stop()
		}
	})
	tr := h.start(t)

	tr.SimulateUserText("Goodbye")
	tr.SimulateAssistantText("Bye!")
	tr.SimulateTurnEnd()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop called from OnTurnComplete did not return")
	}
	assert.Equal(t, StatusIdle, h.session.Snapshot().Status)
	assert.True(t, tr.Closed())
	assert.False(t, h.mic.Running())

	h.start(t)
	assert.Len(t, h.factory.Created(), 2)
}

// stoppingObserver ends the session from inside observer callbacks.
type stoppingObserver struct {
	NopObserver
	session func() *Session
	done    chan string
}

func (o *stoppingObserver) TurnCompleted(string, TurnMetrics) {
	o.session().Close()
	o.done <- "turn"
}

func (o *stoppingObserver) TransportDropped(string) {
	o.session().Stop()
	o.done <- "drop"
}

func (o *stoppingObserver) SessionEnded(string, time.Duration) {
	o.session().Stop()
}

func TestSession_StopFromObserver(t *testing.T) {
	t.Run("turn completed", func(t *testing.T) {
		obs := &stoppingObserver{done: make(chan string, 1)}
		h := newHarness(t, func(c *Config) { c.Observer = obs })
		obs.session = func() *Session { return h.session }
		tr := h.start(t)

		tr.SimulateUserText("Hi")
		tr.SimulateTurnEnd()

		select {
		case got := <-obs.done:
			assert.Equal(t, "turn", got)
		case <-time.After(waitFor):
			t.Fatal("Close called from TurnCompleted did not return")
		}
		assert.Equal(t, StatusIdle, h.session.Snapshot().Status)
	})

	t.Run("transport dropped", func(t *testing.T) {
		obs := &stoppingObserver{done: make(chan string, 1)}
		h := newHarness(t, func(c *Config) { c.Observer = obs })
		obs.session = func() *Session { return h.session }
		tr := h.start(t)

		tr.SimulateDrop(nil)

		select {
		case got := <-obs.done:
			assert.Equal(t, "drop", got)
		case <-time.After(waitFor):
			t.Fatal("Stop called from TransportDropped did not return")
		}
		assert.Equal(t, StatusIdle, h.session.Snapshot().Status)
		require.NoError(t, h.session.Stop())
	})
}

func TestSession_StopDuringToolCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	searchDone := make(chan error, 1)
	h := newHarness(t, func(c *Config) {
		c.Search = SearcherFunc(func(ctx context.Context, query string) (SearchResult, error) {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
			}
			searchDone <- ctx.Err()
			return SearchResult{
				Summary: "Late answer.",
				Sources: []GroundingSource{{URI: "https://late.example", Title: "Late"}},
			}, nil
		})
	})
	tr := h.start(t)

	tr.SimulateUserText("Who won last night?")
	tr.SimulateToolCall("call-1", ToolWebSearch, map[string]any{"query": "last night score"})
	tr.SimulateAssistantText("Let me look.")
	tr.SimulateTurnEnd()

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("search never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.session.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop blocked on the in-flight tool call")
	}

	select {
	case err := <-searchDone:
		assert.ErrorIs(t, err, context.Canceled, "the tool call context is cancelled by Stop")
	case <-time.After(waitFor):
		t.Fatal("search was not cancelled")
	}
	close(release)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, tr.ToolResponses(), "no tool response after Stop")
	snap := h.session.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.GroundingSources)
	assert.Empty(t, snap.UserTranscript)
	assert.Empty(t, h.completed())
}

func TestSession_WebSearchSources(t *testing.T) {
	sources := []GroundingSource{
		{URI: "https://weather.example/paris", Title: "Paris forecast"},
		{URI: "https://news.example/paris", Title: "Paris news"},
	}
	h := newHarness(t, func(c *Config) {
		c.Search = SearcherFunc(func(ctx context.Context, query string) (SearchResult, error) {
			return SearchResult{Summary: "Sunny, 24C in Paris.", Sources: sources}, nil
		})
	})
	tr := h.start(t)

	tr.SimulateUserText("Weather in Paris?")
	tr.SimulateToolCall("call-1", ToolWebSearch, map[string]any{"query": "Paris weather today"})

	require.Eventually(t, func() bool { return len(tr.ToolResponses()) == 1 }, waitFor, tick)
	resp := tr.ToolResponses()[0]
	assert.Equal(t, "call-1", resp.ID)
	assert.Equal(t, ToolWebSearch, resp.Name)
	assert.Equal(t, "Sunny, 24C in Paris.", resp.Response["result"])

	require.Eventually(t, func() bool {
		return len(h.session.Snapshot().GroundingSources) == 2
	}, waitFor, tick)

	tr.SimulateAssistantText("It's sunny.")
	tr.SimulateTurnEnd()
	require.Eventually(t, func() bool { return len(h.completed()) == 1 }, waitFor, tick)
	assert.Equal(t, sources, h.session.Snapshot().GroundingSources, "sources persist after the turn ends")

	tr.SimulateUserText("Thanks")
	require.Eventually(t, func() bool {
		return len(h.session.Snapshot().GroundingSources) == 0
	}, waitFor, tick)
}

func TestSession_FailedSearch(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Search = SearcherFunc(func(ctx context.Context, query string) (SearchResult, error) {
			return SearchResult{}, errors.New("quota exceeded")
		})
	})
	tr := h.start(t)

	tr.SimulateToolCall("call-1", ToolWebSearch, map[string]any{"query": "latest news"})
	require.Eventually(t, func() bool { return len(tr.ToolResponses()) == 1 }, waitFor, tick)

	assert.Equal(t, SearchFallbackSummary, tr.ToolResponses()[0].Response["result"])
	snap := h.session.Snapshot()
	assert.NotNil(t, snap.GroundingSources)
	assert.Empty(t, snap.GroundingSources)
	assert.Equal(t, StatusActive, snap.Status)
}

func TestSession_TurnWaitsForPendingTool(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(c *Config) {
		c.Memory = MemoryWriterFunc(func(ctx context.Context, content string) error {
			<-release
			return errors.New("store offline")
		})
	})
	tr := h.start(t)

	tr.SimulateUserText("My favorite color is green.")
	tr.SimulateToolCall("call-1", ToolSaveToMemory, map[string]any{"content": "Favorite color is green"})
	tr.SimulateAssistantText("Noted!")
	tr.SimulateTurnEnd()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.completed(), "turn must wait for the pending tool call")

	close(release)
	require.Eventually(t, func() bool { return len(h.completed()) == 1 }, waitFor, tick)
	assert.Equal(t, completedTurn{"My favorite color is green.", "Noted!"}, h.completed()[0])

	require.Len(t, tr.ToolResponses(), 1)
	assert.Equal(t, savedToMemory, tr.ToolResponses()[0].Response["result"])
}

func TestSession_SaveToMemoryScenario(t *testing.T) {
	var mu sync.Mutex
	var saved []string
	h := newHarness(t, func(c *Config) {
		c.Memory = MemoryWriterFunc(func(ctx context.Context, content string) error {
			mu.Lock()
			saved = append(saved, content)
			mu.Unlock()
			return nil
		})
	})
	tr := h.start(t)

	tr.SimulateUserText("I have a dentist appointment on Friday.")
	tr.SimulateToolCall("call-7", ToolSaveToMemory, map[string]any{"content": "User has a dentist appointment on Friday"})
	require.Eventually(t, func() bool { return len(tr.ToolResponses()) == 1 }, waitFor, tick)

	tr.SimulateAssistantText("I'll remember your dentist appointment.")
	tr.SimulateTurnEnd()
	require.Eventually(t, func() bool { return len(h.completed()) == 1 }, waitFor, tick)

	mu.Lock()
	assert.Equal(t, []string{"User has a dentist appointment on Friday"}, saved)
	mu.Unlock()
	assert.Empty(t, h.session.Snapshot().GroundingSources)
}

func TestSession_AudioUpstream(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	require.True(t, h.mic.Push(quiet()))
	require.Eventually(t, func() bool { return len(tr.AudioFrames()) == 1 }, waitFor, tick)
	assert.Len(t, tr.AudioFrames()[0], 3200)

	require.NoError(t, h.session.Stop())
	h.mic.Push(quiet())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.AudioFrames(), 1)
}

func TestSession_Playback(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateAudio(make([]byte, 960))
	require.Eventually(t, func() bool { return h.session.Snapshot().IsSpeaking }, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.speaker.Written()) == 1 }, waitFor, tick)

	tr.SimulateTurnEnd()
	require.Eventually(t, func() bool { return !h.session.Snapshot().IsSpeaking }, waitFor, tick)
}

func TestSession_BargeIn(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateAudio(make([]byte, 960))
	require.Eventually(t, func() bool { return h.session.Snapshot().IsSpeaking }, waitFor, tick)

	require.True(t, h.mic.Push(loud()))
	require.Eventually(t, func() bool { return len(tr.AudioFrames()) == 1 }, waitFor, tick)

	assert.False(t, h.session.Snapshot().IsSpeaking, "speech must be cut before the frame is sent")
	assert.GreaterOrEqual(t, h.speaker.Stats().Clears, int64(1))
}

func TestSession_ProviderInterrupt(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateAudio(make([]byte, 960))
	require.Eventually(t, func() bool { return h.session.Snapshot().IsSpeaking }, waitFor, tick)

	tr.SimulateInterrupted()
	require.Eventually(t, func() bool { return !h.session.Snapshot().IsSpeaking }, waitFor, tick)
	assert.Equal(t, StatusActive, h.session.Snapshot().Status)
}

func TestSession_TransportDrop(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.start(t)

	tr.SimulateUserText("half a sentence")
	tr.SimulateDrop(nil)

	require.Eventually(t, func() bool {
		return h.session.Snapshot().Status == StatusError
	}, waitFor, tick)

	snap := h.session.Snapshot()
	assert.Equal(t, msgTransportDropped, snap.Error)
	assert.Empty(t, snap.UserTranscript)
	assert.False(t, h.mic.Running())
	assert.Empty(t, h.completed())

	h.start(t)
	assert.Len(t, h.factory.Created(), 2)
}

func TestSession_AudioDeviceFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.mic.Fail(errors.New("device unplugged"))
	require.Eventually(t, func() bool {
		return h.session.Snapshot().Error == msgAudioDeviceFailure
	}, waitFor, tick)
	assert.Equal(t, StatusActive, h.session.Snapshot().Status)

	require.NoError(t, h.session.Stop())
	assert.Empty(t, h.session.Snapshot().Error)
}

func TestSession_SendText(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.session.SendText("hello"), ErrNotActive)

	tr := h.start(t)
	require.NoError(t, h.session.SendText("What time is it in Tokyo?"))
	assert.Equal(t, []string{"What time is it in Tokyo?"}, tr.Texts())

	require.Eventually(t, func() bool {
		return h.session.Snapshot().UserTranscript == "What time is it in Tokyo?"
	}, waitFor, tick)
}

func TestSession_Subscribe(t *testing.T) {
	h := newHarness(t, nil)

	updates, cancel := h.session.Subscribe()
	first := <-updates
	assert.Equal(t, StatusIdle, first.Status)
	assert.Equal(t, "asst-1", first.AssistantID)

	h.start(t)

	deadline := time.After(waitFor)
	for active := false; !active; {
		select {
		case snap := <-updates:
			active = snap.Status == StatusActive
		case <-deadline:
			t.Fatal("never observed ACTIVE")
		}
	}

	cancel()
	cancel()
	for range updates {
	}
	h.session.SendText("still publishing")
}

func TestSession_CloseEndsSubscriptions(t *testing.T) {
	h := newHarness(t, nil)
	updates, _ := h.session.Subscribe()
	h.start(t)

	require.NoError(t, h.session.Close())
	for range updates {
	}

	late, _ := h.session.Subscribe()
	_, open := <-late
	assert.False(t, open)
}
