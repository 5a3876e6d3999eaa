// Package mix combines microphone and system-audio tracks into a single
// stereo recording, with graceful fallbacks when one or both tracks are
// unusable.
package mix

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"

	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/wav"
)

const (
	// Mix weights favor the microphone so the local speaker stays intelligible
	// over meeting playback.
	micWeight    = 0.7
	systemWeight = 0.3

	// Files smaller than this hold no meaningful audio, only a header and a
	// few frames, and are treated as absent.
	minUsableBytes = 1000

	placeholderSeconds = 1
)

// Stereo mixes two interleaved int16 tracks into one stereo track. Mono
// input is duplicated across both channels, the longer track is truncated
// to the shorter, and the result is rescaled when the weighted sum clips.
func Stereo(mic []int16, micChannels int, system []int16, systemChannels int) []int16 {
	micL, micR := splitStereo(mic, micChannels)
	sysL, sysR := splitStereo(system, systemChannels)

	frames := min(len(micL), len(sysL))
	left := make([]float64, frames)
	right := make([]float64, frames)
	peak := 0.0
	for i := 0; i < frames; i++ {
		left[i] = micWeight*micL[i] + systemWeight*sysL[i]
		right[i] = micWeight*micR[i] + systemWeight*sysR[i]
		if m := math.Abs(left[i]); m > peak {
			peak = m
		}
		if m := math.Abs(right[i]); m > peak {
			peak = m
		}
	}

	scale := 1.0
	if peak > 1.0 {
		scale = 1.0 / peak
	}

	out := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		out[i*2] = toInt16(left[i] * scale)
		out[i*2+1] = toInt16(right[i] * scale)
	}
	return out
}

// splitStereo deinterleaves a track into normalized left/right channels,
// duplicating mono input across both.
func splitStereo(samples []int16, channels int) (left, right []float64) {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	left = make([]float64, frames)
	right = make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := float64(samples[i*channels]) / 32768.0
		r := l
		if channels > 1 {
			r = float64(samples[i*channels+1]) / 32768.0
		}
		left[i] = l
		right[i] = r
	}
	return left, right
}

func toInt16(v float64) int16 {
	switch {
	case v > 1.0:
		return math.MaxInt16
	case v < -1.0:
		return math.MinInt16
	default:
		return int16(v * 32767.0)
	}
}

// Files produces the final recording at outPath from the per-stream track
// files. The fallback chain never fails a stop: when one track is missing
// or trivially small the other is copied verbatim, and when both are
// unusable a short noise placeholder is written so downstream consumers
// always see a non-empty file.
func Files(micPath, systemPath, outPath string, sampleRate int) error {
	micOK := usable(micPath)
	sysOK := usable(systemPath)

	if micOK && sysOK {
		if err := mixFiles(micPath, systemPath, outPath, sampleRate); err == nil {
			return nil
		} else {
			slog.Warn("stereo mix failed, falling back to a single track", "error", err)
		}
	}
	if micOK {
		if err := copyFile(micPath, outPath); err == nil {
			return nil
		} else {
			slog.Warn("microphone track copy failed", "error", err)
		}
	}
	if sysOK {
		if err := copyFile(systemPath, outPath); err == nil {
			return nil
		} else {
			slog.Warn("system track copy failed", "error", err)
		}
	}

	slog.Warn("no usable audio captured, writing placeholder recording",
		"error", apperr.New(apperr.MixingDegraded, "all capture tracks unusable"))
	return writePlaceholder(outPath, sampleRate)
}

func mixFiles(micPath, systemPath, outPath string, sampleRate int) error {
	mic, _, micCh, err := wav.ReadFile(micPath)
	if err != nil {
		return err
	}
	system, _, sysCh, err := wav.ReadFile(systemPath)
	if err != nil {
		return err
	}
	mixed := Stereo(mic, micCh, system, sysCh)
	if len(mixed) == 0 {
		return apperr.New(apperr.MixingDegraded, "mixed track is empty")
	}
	return wav.WriteFile(outPath, mixed, sampleRate, 2)
}

func usable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() >= minUsableBytes
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writePlaceholder emits a second of faint noise so the artifact pipeline
// still has a decodable recording to work with.
func writePlaceholder(path string, sampleRate int) error {
	rng := rand.New(rand.NewSource(42))
	samples := make([]int16, sampleRate*placeholderSeconds*2)
	for i := range samples {
		samples[i] = int16(rng.Intn(200) - 100)
	}
	return wav.WriteFile(path, samples, sampleRate, 2)
}
