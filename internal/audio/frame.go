package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Frame is one chunk of mono PCM samples as delivered by the capture
// callback. Samples are float32 in [-1, 1].
type Frame struct {
	Samples    []float32
	Timestamp  time.Time
	SampleRate int
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	// Format: timestamp(8) + sampleRate(4) + sampleLen(4) + samples
	buf := make([]byte, 8+4+4+len(f.Samples)*4)

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], uint64(f.Timestamp.UnixNano()))
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(f.SampleRate))
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Samples)))
	offset += 4

	for _, s := range f.Samples {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(s))
		offset += 4
	}

	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return errors.New("frame too short")
	}

	offset := 0
	f.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:])))
	offset += 8
	f.SampleRate = int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	n := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if len(data[offset:]) < n*4 {
		return errors.New("frame sample data truncated")
	}
	f.Samples = make([]float32, n)
	for i := range f.Samples {
		f.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	}

	return nil
}

// FrameRing is a bounded FIFO of frames sitting between the audio
// callback and the conditioning loop. Enqueue never blocks: when the
// ring is full the oldest frames are evicted so the callback can always
// hand off its chunk. The capture thread enqueues while the
// conditioning loop dequeues, so every operation holds the ring mutex
// for the whole size-prefixed record; a reader landing between a
// prefix and its payload would desync the framing.
type FrameRing struct {
	mu      sync.Mutex
	size    int
	rb      *ringbuffer.RingBuffer
	dropped int
}

func NewFrameRing(size int) *FrameRing {
	return &FrameRing{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

func (r *FrameRing) Capacity() int { return r.size }

func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rb.Length()
}

// Dropped reports how many frames were evicted to make room so far.
func (r *FrameRing) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *FrameRing) Enqueue(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	record := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(record, uint32(len(data)))
	copy(record[4:], data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(record) > r.rb.Capacity() {
		return errors.New("audio frame too large for ring")
	}

	for r.rb.Free() < len(record) {
		if !r.skipOldest() {
			r.rb.Reset()
			break
		}
		r.dropped++
	}

	_, err = r.rb.Write(record)
	return err
}

func (r *FrameRing) Dequeue() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rb.IsEmpty() {
		return Frame{}, false
	}

	var sizeBytes [4]byte
	if n, err := r.rb.Read(sizeBytes[:]); err != nil || n != 4 {
		return Frame{}, false
	}
	size := int(binary.LittleEndian.Uint32(sizeBytes[:]))
	if size > r.rb.Length() {
		// Framing is broken; drop everything rather than fabricate a frame.
		r.rb.Reset()
		return Frame{}, false
	}

	data := make([]byte, size)
	if n, err := r.rb.Read(data); err != nil || n != size {
		return Frame{}, false
	}

	var f Frame
	if err := f.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return f, true
}

// skipOldest drops one complete record. Callers hold r.mu.
func (r *FrameRing) skipOldest() bool {
	if r.rb.IsEmpty() {
		return false
	}

	var sizeBytes [4]byte
	if n, err := r.rb.Read(sizeBytes[:]); err != nil || n != 4 {
		return false
	}
	size := int(binary.LittleEndian.Uint32(sizeBytes[:]))

	if size > 0 {
		skip := make([]byte, size)
		if n, err := r.rb.Read(skip); err != nil || n != size {
			return false
		}
	}
	return true
}
