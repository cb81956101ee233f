// Package audio implements the conditioning pipeline: microphone capture,
// the fixed filter chain, the frequency analyzer, and audio-domain side
// effects (playback pause, debug recording).
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gen2brain/malgo"
)

// CaptureReason classifies a terminal capture failure. Capture failures
// are never retried; a fresh initialization requires a new grant.
type CaptureReason string

const (
	ReasonPermissionDenied CaptureReason = "permission-denied"
	ReasonDeviceNotFound   CaptureReason = "device-not-found"
	ReasonAPIUnsupported   CaptureReason = "api-unsupported"
)

type CaptureError struct {
	Reason CaptureReason
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio capture failed (%s): %v", e.Reason, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source is the raw audio input feeding the graph. The production
// implementation captures the default microphone; tests feed frames
// directly.
type Source interface {
	// Start begins delivering frames to onFrame from the capture thread.
	// onFrame must not block.
	Start(onFrame func(Frame)) error
	Stop() error
	Close() error
}

// MalgoSource captures the default microphone as mono float32 at a fixed
// sample rate.
type MalgoSource struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
}

func NewMalgoSource(sampleRate int) (*MalgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &CaptureError{Reason: ReasonAPIUnsupported, Err: err}
	}
	return &MalgoSource{ctx: ctx, sampleRate: sampleRate}, nil
}

func (s *MalgoSource) Start(onFrame func(Frame)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 32

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		samples := bytesToFloat32(pInputSamples)
		if len(samples) == 0 {
			return
		}
		onFrame(Frame{
			Samples:    samples,
			Timestamp:  time.Now(),
			SampleRate: s.sampleRate,
		})
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return &CaptureError{Reason: ReasonDeviceNotFound, Err: err}
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		s.device = nil
		// A device that exists but refuses to start is most commonly an
		// OS-level capture permission problem.
		return &CaptureError{Reason: ReasonPermissionDenied, Err: err}
	}
	return nil
}

func (s *MalgoSource) Stop() error {
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			return err
		}
		s.device.Uninit()
		s.device = nil
	}
	return nil
}

func (s *MalgoSource) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	if s.ctx != nil {
		if err := s.ctx.Uninit(); err != nil {
			return err
		}
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

// bytesToFloat32 reinterprets little-endian f32 PCM bytes. The result is
// a fresh slice; the input buffer belongs to the audio thread.
func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
