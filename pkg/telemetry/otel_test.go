package telemetry

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupProviderWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "***", MaskValue("a@bc"))
	assert.Equal(t, "a***c", MaskValue("a@b.c"))
	assert.Equal(t, "ab***hi", MaskValue("abcdefghi"))
	assert.Equal(t, "user***.com", MaskValue("user@contoso.com"))

	for _, name := range []string{"jürgen@beispiel.de", "ü@ö.de", "用户@例子.公司"} {
		masked := MaskValue(name)
		assert.True(t, utf8.ValidString(masked), name)
		assert.Less(t, utf8.RuneCountInString(masked)-3, utf8.RuneCountInString(name)/2+1, name)
	}
	assert.Equal(t, "jürg***l.de", MaskValue("jürgen@beispiel.de"))
}
