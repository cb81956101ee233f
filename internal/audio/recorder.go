package audio

import (
	"fmt"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// Recorder tees the conditioned stream into a 16-bit mono WAV file, used
// for tuning the filter chain offline. Not part of the live signal path.
type Recorder struct {
	fs   afero.Fs
	file afero.File
	enc  *wav.Encoder
	path string
}

func NewRecorder(fs afero.Fs, dir string, sampleRate int) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	path := filepath.Join(dir, time.Now().Format("20060102_150405")+".wav")
	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create record file: %w", err)
	}

	return &Recorder{
		fs:   fs,
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, 16, 1, 1),
		path: path,
	}, nil
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Write(samples []float32) error {
	ints := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		ints[i] = int(s * 32767)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.enc.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	return r.enc.Write(buf)
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
