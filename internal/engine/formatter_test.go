package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainharness/internal/filecache"
)

func TestFormatter_ParseStack(t *testing.T) {
	f := newFormatter(filecache.New(), Permissions{})

	msg, frames := f.ParseStack("Error: boom\n" +
		"\tat inner (/p/tests/a_test.js:3:11(5))\n" +
		"\tat harness:$test.js:7:1(20)\n" +
		"\tat push (native)\n")

	assert.Equal(t, "Error: boom", msg)
	require.Len(t, frames, 3)

	assert.Equal(t, Frame{Function: "inner", File: "/p/tests/a_test.js", Line: 3, Column: 11}, frames[0])
	assert.Equal(t, Frame{File: "harness:$test.js", Line: 7, Column: 1}, frames[1])
	assert.Equal(t, Frame{Function: "push", File: "native", Native: true}, frames[2])
}

func TestFormatter_MultilineMessage(t *testing.T) {
	f := newFormatter(filecache.New(), Permissions{})

	msg, frames := f.ParseStack("Error: first\nsecond line\n    at x.js:1:1")
	assert.Equal(t, "Error: first\nsecond line", msg)
	require.Len(t, frames, 1)
	assert.Equal(t, "x.js", frames[0].File)
}

func TestFormatter_WrappedModuleColumns(t *testing.T) {
	f := newFormatter(filecache.New(), Permissions{})
	f.markWrapped("/p/a.js", len(moduleHeader))

	_, frames := f.ParseStack("Error\n\tat /p/a.js:1:70(0)\n\tat /p/a.js:2:5(0)")
	require.Len(t, frames, 2)
	assert.Equal(t, 70-len(moduleHeader), frames[0].Column)
	assert.Equal(t, 5, frames[1].Column, "only the first line is shifted")
}

func TestFormatter_FormatStack(t *testing.T) {
	f := newFormatter(filecache.New(), Permissions{})

	got := f.FormatStack("Error: boom\n\tat fn (/p/a.js:2:3(4))")
	assert.Equal(t, "Error: boom\n    at fn (/p/a.js:2:3)", got)
}

func TestFormatter_MissingMapIsIgnored(t *testing.T) {
	cache := filecache.New()
	cache.InsertCached("/p/a.js", "x\n//# sourceMappingURL=a.js.map\n", filecache.MediaJavaScript)
	f := newFormatter(cache, Permissions{})

	_, frames := f.ParseStack("Error\n\tat /p/a.js:1:1(0)")
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Mapped)
	assert.Equal(t, "/p/a.js", frames[0].File)
}

func TestDecodeDataURL(t *testing.T) {
	b, err := decodeDataURL("data:application/json;base64,eyJhIjoxfQ==")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	b, err = decodeDataURL("data:application/json,%7B%7D")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))

	_, err = decodeDataURL("data:nocomma")
	require.Error(t, err)
}

func TestScriptError_Rendering(t *testing.T) {
	se := &ScriptError{
		Message: "Error: boom",
		Frames: []Frame{
			{Function: "fn", File: "a.ts", Line: 3, Column: 4},
			{File: "native", Native: true},
		},
	}

	assert.Equal(t, "ScriptError: Error: boom at fn (a.ts:3:4)", se.Error())
	assert.Equal(t, "Error: boom\n    at fn (a.ts:3:4)\n    at native", se.Stack())
	assert.True(t, IsScriptError(se))
}
