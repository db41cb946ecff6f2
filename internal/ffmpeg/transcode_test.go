package ffmpeg

import (
	"strings"
	"testing"

	"github.com/gwlsn/avfarm/internal/quality"
)

func TestBuildTempPath(t *testing.T) {
	tests := []struct {
		input    string
		tempDir  string
		expected string
	}{
		{"/media/movie.mkv", "/tmp", "/tmp/movie.avfarm.tmp.mkv"},
		{"/media/tv/show/episode.mp4", "/media/tv/show", "/media/tv/show/episode.avfarm.tmp.mkv"},
		{"/data/video.avi", "/data", "/data/video.avfarm.tmp.mkv"},
	}

	for _, tt := range tests {
		result := BuildTempPath(tt.input, tt.tempDir)
		if result != tt.expected {
			t.Errorf("BuildTempPath(%s, %s) = %s, expected %s", tt.input, tt.tempDir, result, tt.expected)
		}
	}
}

func TestMapArgs_PreservesAllAudioAndAppliesPerStreamBitrate(t *testing.T) {
	params := &quality.EncodeParams{
		AudioBitratePerStream: []int{128_000, 384_000},
		MapRules:              quality.MapRules{PreserveAllAudio: true, PreserveSubtitles: true},
	}
	subs := []SubtitleStream{{Index: 2, CodecName: "subrip"}, {Index: 3, CodecName: "mov_text"}}

	args := mapArgs(params, subs)
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-map 0:v:0") {
		t.Errorf("expected video map, got %q", joined)
	}
	if !strings.Contains(joined, "-map 0:a") {
		t.Errorf("expected audio map, got %q", joined)
	}
	if !strings.Contains(joined, "-b:a:0 128000") || !strings.Contains(joined, "-b:a:1 384000") {
		t.Errorf("expected per-stream audio bitrates, got %q", joined)
	}
	if !strings.Contains(joined, "-map 0:2") {
		t.Errorf("expected compatible subtitle stream 2 mapped, got %q", joined)
	}
	if strings.Contains(joined, "-map 0:3") {
		t.Errorf("expected incompatible subtitle stream 3 dropped, got %q", joined)
	}
}

func TestMapArgs_SkipAudioTranscodeOmitsBitrateFlags(t *testing.T) {
	params := &quality.EncodeParams{
		AudioBitratePerStream: []int{128_000},
		MapRules:              quality.MapRules{PreserveAllAudio: true, SkipAudioTranscode: true},
	}

	args := mapArgs(params, nil)
	joined := strings.Join(args, " ")

	if strings.Contains(joined, "-b:a:0") {
		t.Errorf("expected no bitrate flags when stream-copying audio, got %q", joined)
	}
}

func TestBuildArgs_IncludesProgressAndCRF(t *testing.T) {
	tr := NewTranscoder("ffmpeg")
	params := &quality.EncodeParams{CRF: 28, Preset: "medium", PixelFormat: "yuv420p"}

	args, err := tr.buildArgs("/in.mkv", "/out.mkv", params, nil)
	if err != nil {
		t.Fatalf("buildArgs: %v", err)
	}
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-crf 28") {
		t.Errorf("expected crf flag, got %q", joined)
	}
	if !strings.Contains(joined, "-progress pipe:2") {
		t.Errorf("expected progress pipe flag, got %q", joined)
	}
	if args[len(args)-1] != "/out.mkv" {
		t.Errorf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestExitCode_NilErrorIsZero(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
