// Package ffmpeg wraps the external media-inspection and encoding
// subprocesses (ffprobe, ffmpeg) the way the teacher's internal/ffmpeg
// package does, adapted to the distributed farm's Probe and Transcoder
// contracts (spec §4.B, §4.D).
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/gwlsn/avfarm/internal/model"
)

// AudioStreamInfo is one entry in SourceProfile's ordered audio stream list.
type AudioStreamInfo struct {
	Codec        string `json:"codec"`
	ChannelCount int    `json:"channel_count"`
	Bitrate      int64  `json:"bitrate"`
}

// SourceProfile is what Probe returns for a local file (spec §4.B).
type SourceProfile struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`

	Container  string `json:"container"`
	VideoCodec string `json:"video_codec"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BitDepth   int    `json:"bit_depth"`
	FrameRate  float64 `json:"frame_rate"`
	Bitrate    int64  `json:"bitrate"`

	ColorTransfer           string `json:"color_transfer"`
	ColorPrimaries          string `json:"color_primaries"`
	ColorSpace              string `json:"color_space"`
	MasteringDisplayPresent bool   `json:"mastering_display_present"`
	ContentLightLevelPresent bool  `json:"content_light_level_present"`
	DolbyVisionProfile      int    `json:"dolby_vision_profile"` // 0 = absent
	HDR10PlusPresent        bool   `json:"hdr10plus_present"`

	AudioStreams []AudioStreamInfo `json:"audio_streams"`
	Subtitles    []SubtitleStream  `json:"subtitles,omitempty"`
}

// ProbeErrorKind classifies why probing a file failed (spec §4.B).
type ProbeErrorKind string

const (
	ProbeErrUnreadable ProbeErrorKind = "unreadable"
	ProbeErrTimeout    ProbeErrorKind = "timeout"
	ProbeErrMalformed  ProbeErrorKind = "malformed"
)

// ProbeError wraps a classified probe failure.
type ProbeError struct {
	Kind ProbeErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed (%s): %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SubtitleStream is one subtitle track, used by the Transcoder's audio/
// subtitle map-rules (spec §4.D). Index is the absolute stream index (for
// -map 0:N), not subtitle-relative.
type SubtitleStream struct {
	Index     int
	CodecName string
}

// Prober wraps gopkg.in/vansante/go-ffprobe.v2, the corpus's ffprobe
// binding (grounded on livepeer-catalyst-api's go.mod), replacing the
// teacher's own hand-rolled exec.Command + json.Unmarshal wrapper.
type Prober struct {
	ffprobePath string
}

// NewProber creates a Prober that invokes the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe inspects path and returns a SourceProfile, or a *ProbeError.
func (p *Prober) Probe(ctx context.Context, path string) (*SourceProfile, error) {
	if p.ffprobePath != "" {
		ffprobe.SetFFProbeBinPath(p.ffprobePath)
	}

	data, err := ffprobe.ProbeURL(ctx, path)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ProbeError{Kind: ProbeErrTimeout, Err: err}
		}
		return nil, &ProbeError{Kind: ProbeErrUnreadable, Err: err}
	}
	if data == nil || data.Format == nil {
		return nil, &ProbeError{Kind: ProbeErrMalformed, Err: fmt.Errorf("empty ffprobe output")}
	}

	profile := &SourceProfile{
		Path:      path,
		Container: data.Format.FormatName,
	}

	if sz, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		profile.Size = sz
	}
	if br, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		profile.Bitrate = br
	}
	profile.Duration = time.Duration(data.Format.DurationSeconds * float64(time.Second))

	videoSeen := false
	for _, stream := range data.Streams {
		switch stream.CodecType {
		case "video":
			if videoSeen {
				continue
			}
			videoSeen = true
			profile.VideoCodec = stream.CodecName
			profile.Width = stream.Width
			profile.Height = stream.Height
			profile.FrameRate = parseFrameRate(stream.RFrameRate)
			if profile.FrameRate == 0 {
				profile.FrameRate = parseFrameRate(stream.AvgFrameRate)
			}
			if stream.BitsPerRawSample != "" {
				profile.BitDepth, _ = strconv.Atoi(stream.BitsPerRawSample)
			}
			if profile.BitDepth == 0 {
				profile.BitDepth = inferBitDepth(stream.PixFmt)
			}
			profile.ColorTransfer = stream.ColorTransfer
			profile.ColorPrimaries = stream.ColorPrimaries
			profile.ColorSpace = stream.ColorSpace
			profile.DolbyVisionProfile, profile.HDR10PlusPresent,
				profile.MasteringDisplayPresent, profile.ContentLightLevelPresent = classifySideData(stream)
		case "audio":
			channels := stream.Channels
			var abr int64
			if stream.BitRate != "" {
				abr, _ = strconv.ParseInt(stream.BitRate, 10, 64)
			}
			profile.AudioStreams = append(profile.AudioStreams, AudioStreamInfo{
				Codec:        stream.CodecName,
				ChannelCount: channels,
				Bitrate:      abr,
			})
		case "subtitle":
			profile.Subtitles = append(profile.Subtitles, SubtitleStream{
				Index:     stream.Index,
				CodecName: stream.CodecName,
			})
		}
	}

	if !videoSeen {
		return nil, &ProbeError{Kind: ProbeErrMalformed, Err: fmt.Errorf("no video stream found")}
	}

	return profile, nil
}

// classifySideData looks up the side-data markers the HDR classification
// rules of spec §4.B need, the same way livepeer-catalyst-api's probe.go
// pulls rotation out of a "Display Matrix" side-data block via
// Stream.SideDataList.GetSideData.
func classifySideData(stream *ffprobe.Stream) (dvProfile int, hdr10plus, masteringDisplay, contentLight bool) {
	if _, err := stream.SideDataList.GetSideData("DOVI configuration record"); err == nil {
		dvProfile = 5 // presence of the configuration record is the signal; ffprobe doesn't expose the profile number as a typed field
	}
	if _, err := stream.SideDataList.GetSideData("HDR Dynamic Metadata SMPTE2094-40 (HDR10+)"); err == nil {
		hdr10plus = true
	}
	if _, err := stream.SideDataList.GetSideData("Mastering display metadata"); err == nil {
		masteringDisplay = true
	}
	if _, err := stream.SideDataList.GetSideData("Content light level metadata"); err == nil {
		contentLight = true
	}
	return
}

// ClassifyHDR applies spec §4.B's ordered HDR classification rules.
func ClassifyHDR(p *SourceProfile) model.HDRKind {
	switch {
	case p.DolbyVisionProfile > 0:
		return model.HDRDolbyVision
	case p.HDR10PlusPresent:
		return model.HDR10Plus
	case isPQOrHLG(p.ColorTransfer) || p.MasteringDisplayPresent:
		return model.HDR10
	default:
		return model.HDRNone
	}
}

func isPQOrHLG(transfer string) bool {
	t := strings.ToLower(transfer)
	return t == "smpte2084" || t == "arib-std-b67"
}

func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

func inferBitDepth(pixFmt string) int {
	if pixFmt == "" {
		return 8
	}
	if strings.Contains(pixFmt, "10le") || strings.Contains(pixFmt, "10be") || strings.Contains(pixFmt, "p010") {
		return 10
	}
	if strings.Contains(pixFmt, "12le") || strings.Contains(pixFmt, "12be") {
		return 12
	}
	return 8
}

// IsVideoFile returns true if the file extension suggests a video file.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	videoExtensions := []string{
		".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
		".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts",
	}
	for _, ve := range videoExtensions {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}
