package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDirectKeyIsOrderInsensitive(t *testing.T) {
	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, DirectKey(a, b), DirectKey(b, a))
	assert.Equal(t, a.String()+":"+b.String(), DirectKey(b, a))
	assert.Equal(t, a.String()+":"+a.String(), DirectKey(a, a))
}

func TestMessageTypeIsValid(t *testing.T) {
	for _, mt := range []MessageType{MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypePdf, MessageTypeAudio, MessageTypeFile} {
		assert.True(t, mt.IsValid(), "%s", mt)
	}
	assert.False(t, MessageType("hologram").IsValid())
	assert.False(t, MessageType("").IsValid())
}
