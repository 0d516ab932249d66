// Package stream owns the transcoding pipeline: an ffmpeg subprocess
// that reads a resolved media URL and emits raw interleaved s16le PCM
// (48 kHz stereo) over a pipe, plus the Opus encoder fed from it.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/resolver"
)

const (
	SampleRate = 48000
	Channels   = 2
	// 20 ms at 48 kHz.
	FrameSamples = 960
	FrameBytes   = FrameSamples * Channels * 2
)

// PCMStream wraps the subprocess's stdout pipe. The caller gets it back
// before transcoding has produced anything; reads block until bytes
// arrive. Exclusively owned by the code currently playing it.
type PCMStream struct {
	title  string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

func (s *PCMStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *PCMStream) Title() string { return s.title }

// Close tears the pipeline down without waiting for the subprocess to
// exit: the read side of the pipe is closed so ffmpeg sees a broken pipe
// and dies on its own, and the Wait happens on a detached goroutine.
// Blocking here would put subprocess exit latency on the skip path.
func (s *PCMStream) Close() {
	s.cancel()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdout.Close()
	go func() {
		_ = s.cmd.Wait()
	}()
}

// Pipeline launches ffmpeg transcode subprocesses.
type Pipeline struct {
	FFmpegPath string
}

func NewPipeline(ffmpegPath string) *Pipeline {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Pipeline{FFmpegPath: ffmpegPath}
}

func buildArgs(inputURL string, startAt time.Duration) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		// Transient origin drops must not abort a long track.
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
	}
	if startAt > 0 {
		args = append(args, "-ss", strconv.Itoa(int(startAt.Seconds())))
	}
	args = append(args,
		"-i", inputURL,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

// Stream launches the transcode subprocess for a resolved source,
// seeking to startAt if non-zero. Launch failures come back as errors,
// never panics; a malformed track must not crash the advancement loop.
func (p *Pipeline) Stream(ctx context.Context, src *resolver.ResolvedStream, startAt time.Duration) (*PCMStream, error) {
	ctx2, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx2, p.FFmpegPath, buildArgs(src.StreamURL, startAt)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}
	slog.Debug("transcode subprocess started",
		"pid", cmd.Process.Pid, "source", src.SourceURL, "startAt", startAt)

	return &PCMStream{
		title:  src.SourceURL,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
	}, nil
}
