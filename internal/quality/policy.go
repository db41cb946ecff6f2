// Package quality implements QualityPolicy: a pure function from a probed
// SourceProfile to either EncodeParams or a Skip decision. It does no I/O and
// runs no iterative search — every value it returns comes from a lookup
// table keyed on resolution bucket, source codec, and bitrate bucket.
package quality

import (
	"github.com/gwlsn/avfarm/internal/ffmpeg"
	"github.com/gwlsn/avfarm/internal/model"
)

// ResolutionBucket buckets by pixel count so ultra-wide sources land where
// their pixel count implies, not where their width alone would suggest.
type ResolutionBucket string

const (
	BucketSD    ResolutionBucket = "sd"
	Bucket720p  ResolutionBucket = "720p"
	Bucket1080p ResolutionBucket = "1080p"
	Bucket1440p ResolutionBucket = "1440p"
	Bucket4K    ResolutionBucket = "4k"
)

// BitrateBucket groups a source's measured bitrate into coarse bands so the
// CRF and audio-bitrate tables stay small and hand-auditable.
type BitrateBucket string

const (
	BitrateLow    BitrateBucket = "low"
	BitrateMedium BitrateBucket = "medium"
	BitrateHigh   BitrateBucket = "high"
)

// ColorParams is the HDR10 color metadata EncodeParams carries when the
// source is preserved rather than skipped.
type ColorParams struct {
	Primaries            string
	Transfer             string
	Space                string
	PixelFormat          string
	MasteringDisplay      bool
	ContentLightLevel     bool
}

// MapRules describes which source streams the Transcoder must carry
// through and how, per spec §4.D's audio/subtitle map contract.
type MapRules struct {
	SkipAudioTranscode bool
	PreserveAllAudio   bool
	PreserveSubtitles  bool
}

// EncodeParams is QualityPolicy's affirmative decision: everything the
// Transcoder needs to build its encoder invocation.
type EncodeParams struct {
	CRF               int
	Preset            string
	AudioBitratePerStream []int
	PixelFormat       string
	Color             *ColorParams
	MapRules          MapRules
}

// SkipKind names why QualityPolicy declined to transcode a source.
type SkipKind string

const (
	SkipDynamicHDRUnpreservable SkipKind = "dynamic_hdr_unpreservable"
	SkipAlreadyEfficient        SkipKind = "already_efficient"
)

// Decision is QualityPolicy's full output: exactly one of Params or Skip is set.
type Decision struct {
	Params *EncodeParams
	Skip   SkipKind
}

func (d Decision) IsSkip() bool { return d.Skip != "" }

// bucketForPixels implements the five-way resolution split of spec §4.C.
func bucketForPixels(width, height int) ResolutionBucket {
	px := width * height
	switch {
	case px < 720*720:
		return BucketSD
	case px < 1280*1280:
		return Bucket720p
	case px < 1920*1920:
		return Bucket1080p
	case px < 2560*2560:
		return Bucket1440p
	default:
		return Bucket4K
	}
}

func bitrateBucketFor(resolution ResolutionBucket, bitrate int64) BitrateBucket {
	thresholds := bitrateThresholds[resolution]
	switch {
	case bitrate <= 0:
		return BitrateMedium
	case bitrate < thresholds.low:
		return BitrateLow
	case bitrate < thresholds.high:
		return BitrateMedium
	default:
		return BitrateHigh
	}
}

type bitrateRange struct{ low, high int64 }

// bitrateThresholds are rough per-resolution bitrate bands (bits/sec) used
// only to pick a lookup column, not to reconstruct a real bitrate ladder.
var bitrateThresholds = map[ResolutionBucket]bitrateRange{
	BucketSD:    {low: 1_500_000, high: 3_500_000},
	Bucket720p:  {low: 3_000_000, high: 6_000_000},
	Bucket1080p: {low: 5_000_000, high: 10_000_000},
	Bucket1440p: {low: 9_000_000, high: 18_000_000},
	Bucket4K:    {low: 16_000_000, high: 35_000_000},
}

type crfKey struct {
	resolution ResolutionBucket
	codec      string
	bitrate    BitrateBucket
}

// crfTable is the layered CRF lookup of spec §4.C, keyed on
// (resolution_bucket, source_codec, source_bitrate_bucket). Entries absent
// here fall back to crfDefaults[resolution].
var crfTable = map[crfKey]int{
	{Bucket1080p, "h264", BitrateHigh}: 24,
	{Bucket1080p, "h264", BitrateMedium}: 26,
	{Bucket1080p, "h264", BitrateLow}: 28,
	{Bucket1080p, "hevc", BitrateHigh}: 26,
	{Bucket1080p, "hevc", BitrateMedium}: 28,
	{Bucket4K, "h264", BitrateHigh}: 26,
	{Bucket4K, "h264", BitrateMedium}: 28,
	{Bucket4K, "hevc", BitrateHigh}: 28,
}

// crfDefaults is the per-resolution fallback CRF when no (codec, bitrate)
// entry in crfTable matches.
var crfDefaults = map[ResolutionBucket]int{
	BucketSD:    30,
	Bucket720p:  28,
	Bucket1080p: 27,
	Bucket1440p: 26,
	Bucket4K:    27,
}

func crfFor(resolution ResolutionBucket, codec string, bitrate BitrateBucket) int {
	if crf, ok := crfTable[crfKey{resolution, codec, bitrate}]; ok {
		return crf
	}
	return crfDefaults[resolution]
}

type audioKey struct {
	codec    string
	channels int
}

// audioBitrateTable keys per-stream Opus target bitrate on
// (source_codec, channel_count); audioBitrateDefaultPerChannel covers any
// (codec, channels) pair not listed here.
var audioBitrateTable = map[audioKey]int{
	{"aac", 2}: 128_000,
	{"aac", 6}: 384_000,
	{"ac3", 2}: 128_000,
	{"ac3", 6}: 384_000,
	{"dts", 6}: 384_000,
	{"flac", 2}: 160_000,
}

// audioBitrateDefaultPerChannel is per-channel, applied when audioBitrateTable has no
// entry for the stream's (codec, channel_count).
const audioBitrateDefaultPerChannel = 48_000

func audioBitrateFor(codec string, channels int) int {
	if br, ok := audioBitrateTable[audioKey{codec, channels}]; ok {
		return br
	}
	if channels <= 0 {
		channels = 2
	}
	return channels * audioBitrateDefaultPerChannel
}

// predictedBitrateForCRF returns the bitrate QualityPolicy expects an
// encode at crf to land near, for the already_efficient AV1 check. This is
// a coarse heuristic, not an encoder model: it scales the resolution's
// low/medium bitrate boundary down as CRF rises above the resolution default.
func predictedBitrateForCRF(resolution ResolutionBucket, crf int) int64 {
	base := bitrateThresholds[resolution].low
	def := crfDefaults[resolution]
	delta := crf - def
	scaled := float64(base) * (1.0 - 0.04*float64(delta))
	if scaled < float64(base)/4 {
		scaled = float64(base) / 4
	}
	return int64(scaled)
}

// Evaluate applies QualityPolicy to a probed source and returns either an
// EncodeParams decision or a Skip, per spec §4.C.
func Evaluate(p *ffmpeg.SourceProfile) Decision {
	hdr := ffmpeg.ClassifyHDR(p)
	if hdr == model.HDRDolbyVision || hdr == model.HDR10Plus {
		return Decision{Skip: SkipDynamicHDRUnpreservable}
	}

	resolution := bucketForPixels(p.Width, p.Height)
	bitrateBucket := bitrateBucketFor(resolution, p.Bitrate)
	crf := crfFor(resolution, p.VideoCodec, bitrateBucket)

	if p.VideoCodec == "av1" {
		predicted := predictedBitrateForCRF(resolution, crf)
		if withinTenPercent(p.Bitrate, predicted) {
			return Decision{Skip: SkipAlreadyEfficient}
		}
	}

	audioBitrates := make([]int, len(p.AudioStreams))
	for i, a := range p.AudioStreams {
		audioBitrates[i] = audioBitrateFor(a.Codec, a.ChannelCount)
	}

	params := &EncodeParams{
		CRF:                   crf,
		Preset:                "medium",
		AudioBitratePerStream: audioBitrates,
		PixelFormat:           "yuv420p",
		MapRules: MapRules{
			PreserveAllAudio:  true,
			PreserveSubtitles: true,
		},
	}

	if hdr == model.HDR10 {
		params.PixelFormat = "yuv420p10le"
		params.Color = &ColorParams{
			Primaries:         "bt2020",
			Transfer:          "smpte2084",
			Space:             "bt2020nc",
			PixelFormat:       "yuv420p10le",
			MasteringDisplay:  p.MasteringDisplayPresent,
			ContentLightLevel: p.ContentLightLevelPresent,
		}
	}

	return Decision{Params: params}
}

func withinTenPercent(measured, predicted int64) bool {
	if predicted == 0 {
		return false
	}
	diff := measured - predicted
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(predicted) <= 0.10
}
