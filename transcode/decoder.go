package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/RyanBlaney/sonido-beat/logging"
)

// Supported container formats
const (
	FormatWAV    = "wav"
	FormatMP3    = "mp3"
	FormatFFmpeg = "ffmpeg"
)

// ErrEmptyAudio is returned when there is nothing to decode
var ErrEmptyAudio = errors.New("empty audio data")

// AudioData represents decoded mono audio
type AudioData struct {
	PCM        []float64     `json:"-"` // Mono samples in [-1, 1]
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"` // Channel count of the source before downmix
	Duration   time.Duration `json:"duration"`
	Format     string        `json:"format"`
	Source     string        `json:"source,omitempty"`
}

// NewAudioData wraps samples that are already mono
func NewAudioData(pcm []float64, sampleRate int) *AudioData {
	return &AudioData{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   1,
		Duration:   samplesDuration(len(pcm), sampleRate),
		Format:     "pcm",
	}
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	// TargetSampleRate only applies to the ffmpeg path; native decoders keep the source rate
	TargetSampleRate int           `json:"target_sample_rate"`
	MaxDuration      time.Duration `json:"max_duration"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	Timeout          time.Duration `json:"timeout"` // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 22050,
		MaxDuration:      0, // No limit
		FFmpegPath:       "ffmpeg",
		Timeout:          30 * time.Second,
	}
}

// Decoder turns WAV, MP3 or anything ffmpeg understands into mono float64 PCM
type Decoder struct {
	config *DecoderConfig
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// DecodeFile decodes an audio file, choosing the decoder by extension
func (d *Decoder) DecodeFile(filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	format := FormatFromExtension(filename)
	logger.Debug("Starting audio file decode", logging.Fields{"format": format})

	if format == FormatFFmpeg {
		return d.decodeWithFFmpeg(context.Background(), []string{"-i", filename}, nil, filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	audioData, err := d.DecodeBytes(data, format)
	if err != nil {
		return nil, err
	}
	audioData.Source = filename
	return audioData, nil
}

// DecodeBytes decodes audio from a byte slice. An empty format is sniffed
// from the content.
func (d *Decoder) DecodeBytes(data []byte, format string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeBytes",
		"data_size": len(data),
	})

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "" {
		format = SniffFormat(data)
	}

	var (
		audioData *AudioData
		err       error
	)
	switch format {
	case FormatWAV:
		audioData, err = d.decodeWAV(data)
	case FormatMP3:
		audioData, err = d.decodeMP3(data)
	default:
		audioData, err = d.decodeWithFFmpeg(context.Background(), []string{"-i", "pipe:0"}, data, "")
	}
	if err != nil {
		logger.Error(err, "Audio decode failed", logging.Fields{"format": format})
		return nil, err
	}

	d.limitDuration(audioData)

	logger.Debug("Audio decoded", logging.Fields{
		"format":      audioData.Format,
		"sample_rate": audioData.SampleRate,
		"channels":    audioData.Channels,
		"samples":     len(audioData.PCM),
	})

	return audioData, nil
}

// DecodeReader decodes audio from an io.Reader
func (d *Decoder) DecodeReader(reader io.Reader, format string) (*AudioData, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	return d.DecodeBytes(data, format)
}

func (d *Decoder) decodeWAV(data []byte) (*AudioData, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.New("WAV file has no usable format chunk")
	}

	bitDepth := int(buf.SourceBitDepth)
	if bitDepth <= 0 {
		bitDepth = int(decoder.BitDepth)
	}
	scale := math.Exp2(float64(bitDepth - 1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	pcm := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for c := range channels {
			sum += float64(buf.Data[i*channels+c])
		}
		pcm[i] = sum / float64(channels) / scale
	}

	return &AudioData{
		PCM:        pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		Duration:   samplesDuration(frames, buf.Format.SampleRate),
		Format:     FormatWAV,
	}, nil
}

// decodeMP3 reads go-mp3's 16-bit stereo interleaved output
func (d *Decoder) decodeMP3(data []byte) (*AudioData, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	pairs := len(raw) / 4
	pcm := make([]float64, pairs)
	for i := range pairs {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(raw[offset:]))
		right := int16(binary.LittleEndian.Uint16(raw[offset+2:]))
		pcm[i] = (float64(left) + float64(right)) / 2.0 / 32768.0
	}

	return &AudioData{
		PCM:        pcm,
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		Duration:   samplesDuration(pairs, decoder.SampleRate()),
		Format:     FormatMP3,
	}, nil
}

// decodeWithFFmpeg runs ffmpeg with the given input arguments. stdin is
// piped when non-nil.
func (d *Decoder) decodeWithFFmpeg(ctx context.Context, input []string, stdin []byte, source string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "decodeWithFFmpeg",
	})

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	args := append(input, d.buildFFmpegArgs()...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, d.config.FFmpegPath, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := cmd.Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			logger.Error(err, "Ffmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	return &AudioData{
		PCM:        samples,
		SampleRate: d.config.TargetSampleRate,
		Channels:   1,
		Duration:   samplesDuration(len(samples), d.config.TargetSampleRate),
		Format:     FormatFFmpeg,
		Source:     source,
	}, nil
}

// buildFFmpegArgs requests mono float64 little-endian at the target rate
func (d *Decoder) buildFFmpegArgs() []string {
	args := []string{
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.config.TargetSampleRate),
	}

	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", d.config.MaxDuration.Seconds()))
	}

	// Suppress ffmpeg output
	args = append(args, "-v", "error")

	return args
}

func (d *Decoder) limitDuration(audioData *AudioData) {
	if d.config.MaxDuration <= 0 || audioData.SampleRate <= 0 {
		return
	}
	limit := int(d.config.MaxDuration.Seconds() * float64(audioData.SampleRate))
	if limit < len(audioData.PCM) {
		audioData.PCM = audioData.PCM[:limit]
		audioData.Duration = samplesDuration(limit, audioData.SampleRate)
	}
}

// ValidateConfig validates the decoder configuration
func (d *Decoder) ValidateConfig() error {
	if d.config.TargetSampleRate <= 0 {
		return fmt.Errorf("target sample rate must be positive: %d", d.config.TargetSampleRate)
	}
	if d.config.MaxDuration < 0 {
		return fmt.Errorf("max duration cannot be negative: %s", d.config.MaxDuration)
	}
	return nil
}

// FormatFromExtension maps a file name to a decoder
func FormatFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	default:
		return FormatFFmpeg
	}
}

// SniffFormat guesses the container from magic bytes
func SniffFormat(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatFFmpeg
	}
}

// bytesToFloat64 converts raw float64 bytes to []float64
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		// Trim to multiple of 8 bytes
		data = data[:len(data)-(len(data)%8)]
	}

	if len(data) == 0 {
		return nil
	}

	sampleCount := len(data) / 8
	samples := make([]float64, sampleCount)
	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}

func samplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
