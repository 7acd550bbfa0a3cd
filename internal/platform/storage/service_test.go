package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "scripts/user_1/65a1.ahk", ObjectKey("user_1", "65a1"))
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"Copy Paste":       "Copy_Paste.ahk",
		"  spaced  ":       "spaced.ahk",
		"../../etc/passwd": "____etcpasswd.ahk",
		"":                 "script.ahk",
		"émoji 🙂 hotkey":   "moji__hotkey.ahk",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}
}
