package main

import (
	"fmt"
	"log/slog"

	"github.com/christophersiem/little-moments/internal/app"
	"github.com/christophersiem/little-moments/internal/config"
	"github.com/christophersiem/little-moments/pkg/audio"
	"github.com/christophersiem/little-moments/pkg/audio/ffmpeg"
	"github.com/christophersiem/little-moments/pkg/audio/portaudio"
)

// registerBuiltinBackends wires the capture backends that ship with moments
// into reg.
func registerBuiltinBackends(reg *config.Registry, log *slog.Logger) {
	reg.RegisterMicrophone("portaudio", func(_ config.BackendEntry, capture config.CaptureConfig) (audio.Microphone, error) {
		return portaudio.New(portaudio.Config{
			SampleRate: capture.SampleRate,
			Channels:   capture.Channels,
			Logger:     log,
		}), nil
	})

	reg.RegisterMicrophone("ffmpeg", func(entry config.BackendEntry, capture config.CaptureConfig) (audio.Microphone, error) {
		return ffmpeg.New(ffmpeg.Config{
			Binary:      entry.StringOption("binary"),
			InputFormat: entry.StringOption("input_format"),
			Device:      entry.StringOption("device"),
			Bitrate:     entry.StringOption("bitrate"),
			SampleRate:  capture.SampleRate,
			Channels:    capture.Channels,
		}), nil
	})

	for _, name := range reg.Names() {
		log.Debug("moments: registered capture backend", "name", name)
	}
}

// buildMicrophone returns the configured backends chained in order.
func (c *cli) buildMicrophone() (audio.Microphone, error) {
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, c.log)
	mic, err := app.BuildMicrophone(c.cfg.Capture, reg, c.log)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}
	return mic, nil
}
