package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/quality"
)

// niceLevel is the CPU scheduling priority the encoder runs at: lowest
// priority a normal user can request via setpriority(2).
const niceLevel = 19

// SIGTERMGrace is how long Transcode waits after a polite stop before
// hard-killing the encoder (spec §4.D).
const SIGTERMGrace = 5 * time.Second

// Progress is one parsed sample of the encoder's progress stream.
type Progress struct {
	Frame   int64
	FPS     float64
	Percent float64
	Speed   float64
	ETA     time.Duration
}

// TranscodeErrorKind classifies why a transcode attempt did not produce a
// usable output.
type TranscodeErrorKind string

const (
	TranscodeErrEncoderCrash TranscodeErrorKind = "encoder_crash"
	TranscodeErrKilled       TranscodeErrorKind = "killed"
	TranscodeErrEmptyOutput  TranscodeErrorKind = "empty_output"
	TranscodeErrIOError      TranscodeErrorKind = "io_error"
)

// TranscodeError is the failure half of the Transcoder contract.
type TranscodeError struct {
	Kind     TranscodeErrorKind
	Message  string
	ExitCode int
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed (%s, exit %d): %s", e.Kind, e.ExitCode, e.Message)
}

// TranscodeResult is the success half of the Transcoder contract.
type TranscodeResult struct {
	OutputPath string
	OutputSize int64
}

// Transcoder wraps the encoder subprocess, built on top of
// github.com/u2takey/ffmpeg-go for argument assembly.
type Transcoder struct {
	ffmpegPath string
}

// NewTranscoder creates a Transcoder invoking the encoder at ffmpegPath.
func NewTranscoder(ffmpegPath string) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath}
}

// Transcode runs the encoder against inputPath per params, preserving every
// audio track and every MKV-compatible subtitle track in subtitles per the
// map rules of spec §4.D; subtitle tracks whose codec MKV cannot carry are
// dropped. It
// reports progress at >=1Hz through onProgress (may be called from another
// goroutine) and honors ctx cancellation: a polite stop is sent first, then
// a hard kill after SIGTERMGrace. Partial output is always removed on any
// non-success path.
func (t *Transcoder) Transcode(
	ctx context.Context,
	inputPath, outputPath string,
	totalDuration time.Duration,
	params *quality.EncodeParams,
	subtitles []SubtitleStream,
	onProgress func(Progress),
) (*TranscodeResult, error) {
	args, err := t.buildArgs(inputPath, outputPath, params, subtitles)
	if err != nil {
		return nil, &TranscodeError{Kind: TranscodeErrIOError, Message: err.Error()}
	}

	cmd := buildCommand(t.ffmpegPath, args)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TranscodeError{Kind: TranscodeErrIOError, Message: err.Error()}
	}

	logger.Debug("encoder command", "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return nil, &TranscodeError{Kind: TranscodeErrIOError, Message: err.Error()}
	}
	lowerPriority(cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		parseProgress(stderr, totalDuration, onProgress)
	}()

	killed := watchCancellation(ctx, cmd)

	waitErr := cmd.Wait()
	wg.Wait()

	if killed.Load() {
		os.Remove(outputPath)
		return nil, &TranscodeError{Kind: TranscodeErrKilled, Message: "cancelled", ExitCode: exitCode(waitErr)}
	}
	if waitErr != nil {
		os.Remove(outputPath)
		return nil, &TranscodeError{Kind: TranscodeErrEncoderCrash, Message: waitErr.Error(), ExitCode: exitCode(waitErr)}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outputPath)
		return nil, &TranscodeError{Kind: TranscodeErrEmptyOutput, Message: "encoder produced no output"}
	}

	return &TranscodeResult{OutputPath: outputPath, OutputSize: info.Size()}, nil
}

// buildArgs assembles the ffmpeg command line. It leans on ffmpeg-go to
// build the base input/output invocation, then splices in the explicit
// stream maps, per-stream audio bitrates, and progress reporting flags the
// library's single-valued KwArgs can't express.
func (t *Transcoder) buildArgs(inputPath, outputPath string, params *quality.EncodeParams, subtitles []SubtitleStream) ([]string, error) {
	outArgs := ffmpeggo.KwArgs{
		"c:v":     "libsvtav1",
		"crf":     strconv.Itoa(params.CRF),
		"preset":  params.Preset,
		"pix_fmt": params.PixelFormat,
	}
	if params.MapRules.SkipAudioTranscode {
		outArgs["c:a"] = "copy"
	} else {
		outArgs["c:a"] = "libopus"
	}
	if params.Color != nil {
		outArgs["color_primaries"] = params.Color.Primaries
		outArgs["color_trc"] = params.Color.Transfer
		outArgs["colorspace"] = params.Color.Space
	}

	cmd := ffmpeggo.Input(inputPath).
		Output(outputPath, outArgs).
		OverWriteOutput().
		Compile()
	if cmd == nil || len(cmd.Args) < 2 {
		return nil, fmt.Errorf("ffmpeg-go failed to compile a command")
	}

	args := append([]string{}, cmd.Args[1:]...)
	extra := mapArgs(params, subtitles)
	extra = append(extra, "-progress", "pipe:2", "-nostats")

	// ffmpeg-go may append global flags such as -y after the output path,
	// so locate the output and move it to the very end, after the extras.
	outputIdx := len(args) - 1
	for i, a := range args {
		if a == outputPath {
			outputIdx = i
		}
	}
	spliced := make([]string, 0, len(args)+len(extra))
	spliced = append(spliced, args[:outputIdx]...)
	spliced = append(spliced, args[outputIdx+1:]...)
	spliced = append(spliced, extra...)
	spliced = append(spliced, args[outputIdx])
	return spliced, nil
}

// mapArgs preserves every audio and subtitle track per spec §4.D, applying
// each stream's own Opus bitrate when audio is transcoded rather than
// stream-copied.
func mapArgs(params *quality.EncodeParams, subtitles []SubtitleStream) []string {
	args := []string{"-map", "0:v:0"}

	if params.MapRules.PreserveAllAudio {
		args = append(args, "-map", "0:a")
		if !params.MapRules.SkipAudioTranscode {
			for i, br := range params.AudioBitratePerStream {
				args = append(args, fmt.Sprintf("-b:a:%d", i), strconv.Itoa(br))
			}
		}
	}

	if params.MapRules.PreserveSubtitles && subtitles == nil {
		args = append(args, "-map", "0:s?", "-c:s", "copy")
	} else if params.MapRules.PreserveSubtitles {
		compatible, _ := FilterMKVCompatible(subtitles)
		for _, idx := range compatible {
			args = append(args, "-map", fmt.Sprintf("0:%d", idx))
		}
		if len(compatible) > 0 {
			args = append(args, "-c:s", "copy")
		}
	}

	return args
}

func buildCommand(ffmpegPath string, args []string) *exec.Cmd {
	return exec.Command(ffmpegPath, args...)
}

// lowerPriority applies the encoder's lowest-priority scheduling
// requirement (spec §4.D's "nice/ionice equivalent"). Best-effort: a
// failure here never fails the transcode.
func lowerPriority(pid int) {
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, niceLevel)
}

// watchCancellation sends a polite SIGTERM on ctx cancellation, then
// hard-kills after SIGTERMGrace if the process hasn't exited. Returns a
// pointer the caller checks after Wait returns to distinguish a cancelled
// run from an organic encoder crash.
func watchCancellation(ctx context.Context, cmd *exec.Cmd) *atomic.Bool {
	killed := &atomic.Bool{}
	go func() {
		<-ctx.Done()
		killed.Store(true)
		if cmd.Process == nil {
			return
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		timer := time.NewTimer(SIGTERMGrace)
		defer timer.Stop()
		<-timer.C
		_ = cmd.Process.Kill()
	}()
	return killed
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	for err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// parseProgress reads ffmpeg's "-progress pipe:2" key=value stream and
// calls onProgress on every "progress=continue|end" line, matching the
// >=1Hz cadence ffmpeg itself paces the stream at.
func parseProgress(r io.Reader, totalDuration time.Duration, onProgress func(Progress)) {
	scanner := bufio.NewScanner(r)
	var cur Progress
	var outTime time.Duration

	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key, value := line[:idx], strings.TrimSpace(line[idx+1:])

		switch key {
		case "frame":
			cur.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			cur.FPS, _ = strconv.ParseFloat(value, 64)
		case "out_time_us":
			if value != "N/A" {
				us, _ := strconv.ParseInt(value, 10, 64)
				outTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			if value != "N/A" {
				cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
			}
		case "progress":
			if totalDuration > 0 {
				cur.Percent = min100(float64(outTime) / float64(totalDuration) * 100)
				if cur.Speed > 0 {
					remaining := totalDuration - outTime
					cur.ETA = time.Duration(float64(remaining) / cur.Speed)
				}
			}
			if onProgress != nil {
				onProgress(cur)
			}
		}
	}
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

// BuildTempPath generates the local working path a transcode writes its
// candidate output to before SafeReplace takes over.
func BuildTempPath(inputPath, tempDir string) string {
	return tempDir + "/" + baseName(inputPath) + ".avfarm.tmp.mkv"
}

func baseName(path string) string {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}
