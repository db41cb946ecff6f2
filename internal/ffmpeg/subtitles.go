package ffmpeg

import "strings"

// mkvCompatibleCodecs is the subset of subtitle codecs matroska.c's
// ff_mkv_codec_tags table maps to an S_* track, i.e. the ones ffmpeg's -c:s
// copy can mux into an .mkv without re-encoding the track.
var mkvCompatibleCodecs = map[string]bool{
	"subrip":             true,
	"srt":                true,
	"ass":                true,
	"ssa":                true,
	"text":               true,
	"dvd_subtitle":       true,
	"dvb_subtitle":       true,
	"hdmv_pgs_subtitle":  true,
	"hdmv_text_subtitle": true,
	"arib_caption":       true,
	"webvtt":             true,
}

// IsMKVCompatible reports whether codecName can be copied straight into an
// MKV subtitle track. Unknown codecs are treated as incompatible; dropping
// a track is always safer than failing the whole transcode over it.
func IsMKVCompatible(codecName string) bool {
	return mkvCompatibleCodecs[strings.ToLower(strings.TrimSpace(codecName))]
}

// FilterMKVCompatible splits streams into indices safe for -map 0:N and the
// deduplicated codec names of the ones dropped, for a single warning line
// per codec instead of one per track. A nil streams means no subtitle
// tracks were probed; Transcoder treats nil streams as "map everything" and an
// empty-but-non-nil result as "map nothing", so the two must stay distinct.
func FilterMKVCompatible(streams []SubtitleStream) (compatibleIndices []int, droppedCodecs []string) {
	if streams == nil {
		return nil, nil
	}

	compatibleIndices = make([]int, 0, len(streams))
	seenCodecs := make(map[string]bool)

	for _, s := range streams {
		if IsMKVCompatible(s.CodecName) {
			compatibleIndices = append(compatibleIndices, s.Index)
			continue
		}
		if !seenCodecs[s.CodecName] {
			seenCodecs[s.CodecName] = true
			droppedCodecs = append(droppedCodecs, s.CodecName)
		}
	}
	return compatibleIndices, droppedCodecs
}
