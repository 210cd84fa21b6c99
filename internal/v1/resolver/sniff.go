package resolver

import "bytes"

// hevcWarning is attached when an mp4's brand list names an HEVC codec.
const hevcWarning = "likely HEVC, may not play in some browsers"

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// containerForMediaType maps an explicit video content type to its container.
func containerForMediaType(contentType string) string {
	switch contentType {
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/mp2t":
		return "ts"
	}
	return ""
}

// sniffContainer identifies a media container from the leading bytes of the
// file. It recognizes ISO BMFF (mp4), EBML (webm/mkv), and MPEG-TS, which
// covers what browsers will actually play from a plain file URL.
func sniffContainer(b []byte) (container, warning string) {
	// ISO BMFF starts with a box whose type at offset 4 is "ftyp".
	if len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp")) {
		if bytes.Contains(b, []byte("hvc1")) || bytes.Contains(b, []byte("hev1")) {
			warning = hevcWarning
		}
		return "mp4", warning
	}

	if len(b) >= 4 && bytes.Equal(b[:4], ebmlMagic) {
		return "webm", ""
	}

	// MPEG-TS sync bytes repeat every 188-byte packet.
	if len(b) > 188 && b[0] == 0x47 && b[188] == 0x47 {
		return "ts", ""
	}

	return "", ""
}
