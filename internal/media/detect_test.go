package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectKindByExt(t *testing.T) {
	assert.Equal(t, KindImage, DetectKindByExt("a.PNG"))
	assert.Equal(t, KindVideo, DetectKindByExt("b.mp4"))
	assert.Equal(t, KindUnknown, DetectKindByExt("c.txt"))
	assert.Equal(t, KindUnknown, DetectKindByExt("noext"))
}

func TestDetectKindBySignature(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}
	assert.Equal(t, KindImage, DetectKindBySignature(png))

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	assert.Equal(t, KindImage, DetectKindBySignature(jpeg))

	mp4 := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}
	assert.Equal(t, KindVideo, DetectKindBySignature(mp4))

	assert.Equal(t, KindUnknown, DetectKindBySignature([]byte{1, 2, 3}))
}
