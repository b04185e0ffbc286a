// Package pcm converts raw 16-bit sample buffers into uploadable files.
package pcm

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth = 16
	wavPCM   = 1
)

// EncodeWAV renders interleaved 16-bit samples as a WAV file. The encoder
// needs to seek back to patch the header, so the file is assembled in a
// temporary file and read back.
func EncodeWAV(samples []int16, rate, channels int) ([]byte, error) {
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("pcm: encode wav: invalid format %d Hz, %d channels", rate, channels)
	}

	f, err := os.CreateTemp("", "moment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("pcm: encode wav: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	enc := wav.NewEncoder(f, rate, bitDepth, channels, wavPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	for i, v := range samples {
		buf.Data[i] = int(v)
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("pcm: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("pcm: encode wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("pcm: encode wav: %w", err)
	}
	return io.ReadAll(f)
}
