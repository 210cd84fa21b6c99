package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffContainer(t *testing.T) {
	tsPacket := make([]byte, 376)
	tsPacket[0] = 0x47
	tsPacket[188] = 0x47

	tests := []struct {
		name    string
		body    []byte
		want    string
		warning bool
	}{
		{"mp4", mp4Header("isom"), "mp4", false},
		{"mp4 hevc hvc1", mp4Header("hvc1"), "mp4", true},
		{"mp4 hevc hev1", mp4Header("hev1"), "mp4", true},
		{"webm", append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 32)...), "webm", false},
		{"mpeg-ts", tsPacket, "ts", false},
		{"short ts lookalike", []byte{0x47, 0x00}, "", false},
		{"garbage", []byte("<!DOCTYPE html><html>"), "", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, warning := sniffContainer(tt.body)
			assert.Equal(t, tt.want, container)
			if tt.warning {
				assert.NotEmpty(t, warning)
			} else {
				assert.Empty(t, warning)
			}
		})
	}
}

func TestContainerForMediaType(t *testing.T) {
	assert.Equal(t, "mp4", containerForMediaType("video/mp4"))
	assert.Equal(t, "webm", containerForMediaType("video/webm"))
	assert.Equal(t, "ts", containerForMediaType("video/mp2t"))
	assert.Equal(t, "", containerForMediaType("video/x-matroska"))
	assert.Equal(t, "", containerForMediaType("text/html"))
	assert.Equal(t, "", containerForMediaType(""))
}

func TestIsYouTubeHost(t *testing.T) {
	assert.True(t, isYouTubeHost("youtube.com"))
	assert.True(t, isYouTubeHost("www.youtube.com"))
	assert.True(t, isYouTubeHost("music.youtube.com"))
	assert.True(t, isYouTubeHost("YOUTUBE.COM"))
	assert.True(t, isYouTubeHost("youtu.be"))

	assert.False(t, isYouTubeHost("youtube.com.evil.example"))
	assert.False(t, isYouTubeHost("notyoutube.com"))
	assert.False(t, isYouTubeHost("youtu.be.evil.example"))
	assert.False(t, isYouTubeHost(""))
}
