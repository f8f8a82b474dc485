package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if _, err := src.Read(ctx); err != io.EOF {
		t.Errorf("Read after Stop = %v, want io.EOF", err)
	}
}

func TestMockSource_Generates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunk.Samples) != cfg.BufferSize()*cfg.Channels {
		t.Errorf("Expected %d samples, got %d", cfg.BufferSize(), len(chunk.Samples))
	}
	if chunk.Energy() == 0 {
		t.Error("Expected non-zero energy from sine wave generator")
	}
	if src.Stats().ChunksRead < 1 {
		t.Error("Expected ChunksRead to be counted")
	}
}

func TestMockSource_ManualAndFail(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithManualFrames())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := AudioChunk{Samples: []int16{1, 2, 3}, SampleRate: InputSampleRate, Channels: 1}
	if !src.Push(want) {
		t.Fatal("Push rejected frame")
	}
	got, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got.Samples) != 3 || got.Samples[2] != 3 {
		t.Errorf("Read = %v", got.Samples)
	}

	boom := errors.New("unplugged")
	src.Fail(boom)
	if _, err := src.Read(ctx); !errors.Is(err, boom) {
		t.Errorf("Read after Fail = %v", err)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSink_WriteFlushClear(t *testing.T) {
	sink := NewMockSink(PlaybackConfig(), nil)
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk := AudioChunk{Samples: make([]int16, 960), SampleRate: OutputSampleRate, Channels: 1}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.Stats().BufferedSamples != 0 {
		t.Error("Flush should drain the buffer")
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 {
		t.Errorf("Expected 2 chunks written, got %d", stats.ChunksWritten)
	}
	if stats.Clears != 1 {
		t.Errorf("Expected 1 clear, got %d", stats.Clears)
	}
	if len(sink.Written()) != 2 {
		t.Errorf("Written() = %d chunks", len(sink.Written()))
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	sink := NewMockSink(PlaybackConfig(), nil)
	defer sink.Close()

	chunk := AudioChunk{Samples: make([]int16, 960), SampleRate: OutputSampleRate, Channels: 1}
	if err := sink.Write(context.Background(), chunk); err == nil {
		t.Error("Expected error when writing to non-running sink")
	}
}

func TestFactory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name = %q", src.Name())
	}

	cfg.Backend = "alsa"
	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("expected error for unknown backend")
	}

	if AvailableBackends()[0] != BackendMock {
		t.Error("mock backend should always be available")
	}
}
