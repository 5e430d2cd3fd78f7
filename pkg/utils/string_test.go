package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeString("  hello\x00 world\x1b  "))
	assert.Equal(t, "line1\nline2", SanitizeString("line1\nline2"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "long st...", TruncateString("long string here", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "use*************", MaskSensitive("user@example.com", 3))
	assert.Equal(t, "**", MaskSensitive("ab", 3))
}

func TestNewRoomID(t *testing.T) {
	id := NewRoomID("pub-1")
	assert.True(t, strings.HasPrefix(id, "stream-pub-1-"))
	assert.NotEqual(t, id, NewRoomID("pub-1"))
}

func TestNewDeviceSessionID(t *testing.T) {
	a := NewDeviceSessionID()
	b := NewDeviceSessionID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
