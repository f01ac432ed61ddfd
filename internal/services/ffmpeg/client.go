package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"sprocket/internal/services"
)

var commandContext = exec.CommandContext

// logTailLimit bounds how much engine chatter a Result retains.
const logTailLimit = 40

// Progress captures one block of ffmpeg -progress key=value output.
type Progress struct {
	FrameCount int64
	FPS        float64
	OutTime    time.Duration
	Speed      float64
	Done       bool
}

// Request describes a single engine invocation. Args must not include the
// output path; the client appends it so it can verify the artifact landed
// where the caller expects.
type Request struct {
	Args       []string
	OutputPath string
	// NoOutputFile marks invocations whose result is stdout, not a file
	// (probe-style runs routed through the engine).
	NoOutputFile bool
}

// Result reports what a completed run produced.
type Result struct {
	OutputPath string
	LogTail    []string
	Duration   time.Duration
}

// Client defines transformation engine behaviour.
type Client interface {
	Run(ctx context.Context, req Request, progress func(Progress)) (Result, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(binary) != "" {
			c.binary = binary
		}
	}
}

// WithTimeout bounds each invocation. Zero means no limit beyond the caller's
// context.
func WithTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		c.timeout = timeout
	}
}

// WithExtraArgs appends operator-configured global flags to every invocation.
func WithExtraArgs(args []string) Option {
	return func(c *CLI) {
		c.extraArgs = append([]string(nil), args...)
	}
}

// CLI wraps the ffmpeg command-line binary.
type CLI struct {
	binary    string
	timeout   time.Duration
	extraArgs []string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Run launches ffmpeg and blocks until it exits. Progress blocks parsed from
// -progress output are delivered to the callback as they arrive. On success
// the output file exists and is non-empty unless the request opted out.
func (c *CLI) Run(ctx context.Context, req Request, progress func(Progress)) (Result, error) {
	if len(req.Args) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "ffmpeg", "run", "no arguments", nil)
	}
	if !req.NoOutputFile && strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "ffmpeg", "run", "output path required", nil)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(c.extraArgs)+len(req.Args)+6)
	args = append(args, "-hide_banner", "-nostdin", "-y")
	args = append(args, c.extraArgs...)
	args = append(args, "-progress", "pipe:2")
	args = append(args, req.Args...)
	if !req.NoOutputFile {
		args = append(args, req.OutputPath)
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", "stderr pipe", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", "start "+c.binary, err)
	}

	tail := newTailBuffer(logTailLimit)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeProgress(stderr, tail, progress)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	elapsed := time.Since(started)
	result := Result{OutputPath: req.OutputPath, LogTail: tail.Lines(), Duration: elapsed}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", fmt.Sprintf("timed out after %s", elapsed.Round(time.Millisecond)), ctxErr)
		}
		return result, ctxErr
	}
	if waitErr != nil {
		return result, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", summarizeTail(tail), waitErr)
	}

	if !req.NoOutputFile {
		info, err := os.Stat(req.OutputPath)
		if err != nil {
			return result, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", "engine exited cleanly but produced no output file", err)
		}
		if info.Size() == 0 {
			return result, services.Wrap(services.ErrExternalTool, "ffmpeg", "run", "engine produced an empty output file", nil)
		}
	}
	return result, nil
}

// consumeProgress reads interleaved log and -progress key=value lines.
// Progress blocks end at a "progress=" line; everything that is not a
// progress key feeds the log tail.
func consumeProgress(r io.Reader, tail *tailBuffer, progress func(Progress)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	var current Progress
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			tail.Append(line)
			continue
		}
		switch key {
		case "frame":
			current.FrameCount, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		case "fps":
			current.FPS, _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
		case "out_time_us":
			us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err == nil {
				current.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			current.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64)
		case "progress":
			current.Done = strings.TrimSpace(value) == "end"
			if progress != nil {
				progress(current)
			}
			current = Progress{}
		default:
			if !isProgressKey(key) {
				tail.Append(line)
			}
		}
	}
}

// isProgressKey filters -progress keys we do not surface so they stay out of
// the log tail.
func isProgressKey(key string) bool {
	switch key {
	case "stream_0_0_q", "bitrate", "total_size", "out_time", "out_time_ms", "dup_frames", "drop_frames":
		return true
	}
	return false
}

func summarizeTail(tail *tailBuffer) string {
	lines := tail.Lines()
	if len(lines) == 0 {
		return "engine exited with failure"
	}
	return lines[len(lines)-1]
}

// tailBuffer keeps the last n appended lines.
type tailBuffer struct {
	limit int
	lines []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Append(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *tailBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

var _ Client = (*CLI)(nil)
