//go:build cgo

package audio

import (
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperr "github.com/meetscribe/platform/internal/errors"
)

// portAudioBackend captures real audio through portaudio.
type portAudioBackend struct {
	mu     sync.Mutex
	closed bool
}

func newPortAudioBackend() (*portAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &portAudioBackend{}, nil
}

func (b *portAudioBackend) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var defIn, defOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil && d != nil {
		defIn = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil && d != nil {
		defOut = d.Name
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:             info.Name,
			Name:           info.Name,
			InputChannels:  info.MaxInputChannels,
			OutputChannels: info.MaxOutputChannels,
			DefaultInput:   info.Name == defIn,
			DefaultOutput:  info.Name == defOut,
		})
	}
	return devices, nil
}

func (b *portAudioBackend) OpenInput(deviceID string, sampleRate int) (Stream, error) {
	info, err := b.deviceInfo(deviceID)
	if err != nil {
		return nil, err
	}
	return b.open(info, 1, sampleRate)
}

func (b *portAudioBackend) OpenSystem(sampleRate int) (Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.DeviceError, "device enumeration failed")
	}
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		if containsAny(strings.ToLower(info.Name), virtualKeywords) {
			channels := min(2, info.MaxInputChannels)
			return b.open(info, channels, sampleRate)
		}
	}
	return nil, apperr.New(apperr.DeviceError, "no system-audio loopback device detected")
}

func (b *portAudioBackend) deviceInfo(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil || info == nil {
			return nil, apperr.Wrap(err, apperr.DeviceError, "no default input device")
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.DeviceError, "device enumeration failed")
	}
	for _, info := range infos {
		if info.Name == deviceID && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, apperr.Newf(apperr.DeviceError, "input device not found: %s", deviceID)
}

func (b *portAudioBackend) open(info *portaudio.DeviceInfo, channels, sampleRate int) (Stream, error) {
	buf := make([]int16, DefaultChunkFrames*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: DefaultChunkFrames,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.DeviceError, "open stream on %s", info.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, apperr.Wrapf(err, apperr.DeviceError, "start stream on %s", info.Name)
	}
	return &portAudioStream{stream: stream, buf: buf, channels: channels, sampleRate: sampleRate}, nil
}

func (b *portAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream     *portaudio.Stream
	buf        []int16
	channels   int
	sampleRate int
}

func (s *portAudioStream) ReadChunk(hint time.Duration) (Chunk, bool, error) {
	wantFrames := int(float64(s.sampleRate) * hint.Seconds())
	if wantFrames < DefaultChunkFrames {
		wantFrames = DefaultChunkFrames
	}

	samples := make([]int16, 0, wantFrames*s.channels)
	overflowed := false
	for frames := 0; frames < wantFrames; frames += DefaultChunkFrames {
		if err := s.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				overflowed = true
			} else {
				return Chunk{Samples: samples, Channels: s.channels}, overflowed,
					apperr.Wrap(err, apperr.StreamError, "capture read failed")
			}
		}
		samples = append(samples, s.buf...)
	}
	return Chunk{Samples: samples, Channels: s.channels}, overflowed, nil
}

func (s *portAudioStream) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
