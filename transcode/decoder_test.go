package transcode

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV encodes interleaved 16-bit samples to a file in dir
func writeWAV(t *testing.T, dir string, sampleRate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(dir, "fixture.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	encoder := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, encoder.Write(buf))
	require.NoError(t, encoder.Close())

	return path
}

func TestDecodeFileWAVDownmixesToMono(t *testing.T) {
	const sampleRate = 8000
	frames := sampleRate / 2

	data := make([]int, frames*2)
	for i := range frames {
		data[2*i] = 16384   // left = 0.5
		data[2*i+1] = -8192 // right = -0.25
	}
	path := writeWAV(t, t.TempDir(), sampleRate, 2, data)

	audioData, err := NewDecoder(nil).DecodeFile(path)
	require.NoError(t, err)

	assert.Equal(t, FormatWAV, audioData.Format)
	assert.Equal(t, sampleRate, audioData.SampleRate)
	assert.Equal(t, 2, audioData.Channels)
	assert.Equal(t, path, audioData.Source)
	require.Len(t, audioData.PCM, frames)
	assert.InDelta(t, 0.125, audioData.PCM[0], 1e-9)
	assert.Equal(t, 500*time.Millisecond, audioData.Duration)
}

func TestDecodeBytesSniffsWAV(t *testing.T) {
	const sampleRate = 11025
	data := make([]int, 1000)
	for i := range data {
		data[i] = int(math.Round(0.5 * 32767 * math.Sin(2*math.Pi*float64(i)/50)))
	}
	path := writeWAV(t, t.TempDir(), sampleRate, 1, data)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, SniffFormat(raw))

	audioData, err := NewDecoder(nil).DecodeBytes(raw, "")
	require.NoError(t, err)
	require.Len(t, audioData.PCM, len(data))
	for i, v := range audioData.PCM {
		assert.InDelta(t, float64(data[i])/32768.0, v, 1e-9)
	}
}

func TestDecodeBytesHonorsMaxDuration(t *testing.T) {
	const sampleRate = 8000
	path := writeWAV(t, t.TempDir(), sampleRate, 1, make([]int, sampleRate))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	config := DefaultDecoderConfig()
	config.MaxDuration = 250 * time.Millisecond
	audioData, err := NewDecoder(config).DecodeBytes(raw, "wav")
	require.NoError(t, err)
	assert.Len(t, audioData.PCM, sampleRate/4)
	assert.Equal(t, 250*time.Millisecond, audioData.Duration)
}

func TestDecodeErrors(t *testing.T) {
	decoder := NewDecoder(nil)

	_, err := decoder.DecodeBytes(nil, "wav")
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = decoder.DecodeBytes([]byte("not a wav file at all"), "wav")
	assert.Error(t, err)

	config := DefaultDecoderConfig()
	config.FFmpegPath = filepath.Join(t.TempDir(), "missing-ffmpeg")
	_, err = NewDecoder(config).DecodeBytes([]byte("fLaC0000"), "flac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg decode failed")
}

func TestFormatDetection(t *testing.T) {
	assert.Equal(t, FormatWAV, FormatFromExtension("a/b/track.WAV"))
	assert.Equal(t, FormatMP3, FormatFromExtension("track.mp3"))
	assert.Equal(t, FormatFFmpeg, FormatFromExtension("track.flac"))

	assert.Equal(t, FormatMP3, SniffFormat([]byte("ID3\x04\x00")))
	assert.Equal(t, FormatMP3, SniffFormat([]byte{0xFF, 0xFB, 0x90}))
	assert.Equal(t, FormatFFmpeg, SniffFormat([]byte("OggS")))
}

func TestBytesToFloat64(t *testing.T) {
	raw := make([]byte, 8*3+5)
	for i, v := range []float64{0.25, -1, 0.5} {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	assert.Equal(t, []float64{0.25, -1, 0.5}, bytesToFloat64(raw))
	assert.Nil(t, bytesToFloat64(raw[:5]))
}

func TestBuildFFmpegArgsAndValidate(t *testing.T) {
	config := DefaultDecoderConfig()
	config.MaxDuration = 90 * time.Second
	d := NewDecoder(config)

	args := d.buildFFmpegArgs()
	assert.Equal(t, []string{"-f", "f64le", "-ac", "1", "-ar", "22050", "-t", "90.00", "-v", "error"}, args)
	assert.NoError(t, d.ValidateConfig())

	config.TargetSampleRate = 0
	assert.Error(t, d.ValidateConfig())
}

func TestNewAudioData(t *testing.T) {
	a := NewAudioData(make([]float64, 44100), 22050)
	assert.Equal(t, 2*time.Second, a.Duration)
	assert.Equal(t, 1, a.Channels)
}
