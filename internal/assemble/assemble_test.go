package assemble

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/amanullahtanweer/segscribe/internal/dispatch"
	"github.com/amanullahtanweer/segscribe/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(i int, start int64, text string) dispatch.Result {
	return dispatch.Result{Bounds: segment.Bounds{Index: i, StartMs: start, EndMs: start + 30000}, Text: text}
}

func TestTimedExample(t *testing.T) {
	plan := []segment.Bounds{{Index: 0, StartMs: 0, EndMs: 30000}, {Index: 1, StartMs: 30000, EndMs: 45000}}
	results := []dispatch.Result{result(0, 0, "hello"), result(1, 30000, "world")}

	got := TimedText(plan, results, 45000)
	assert.Equal(t,
		"1\n00:00:00,000 --> 00:00:30,000\nhello\n"+
			"\n"+
			"2\n00:00:30,000 --> 00:00:45,000\nworld\n",
		got)
}

func TestTimedNumbersOnlyNonEmpty(t *testing.T) {
	plan := []segment.Bounds{
		{Index: 0, StartMs: 0, EndMs: 30000},
		{Index: 1, StartMs: 29700, EndMs: 59700},
		{Index: 2, StartMs: 59400, EndMs: 65000},
	}
	results := []dispatch.Result{
		result(0, 0, "first"),
		{Bounds: plan[1], Err: errors.New("timeout")},
		result(2, 59400, " third "),
	}

	captions := Captions(plan, results, 65000)
	require.Len(t, captions, 2)
	assert.Equal(t, Caption{Number: 1, StartMs: 0, EndMs: 29700, Text: "first"}, captions[0])
	assert.Equal(t, Caption{Number: 2, StartMs: 59400, EndMs: 65000, Text: "third"}, captions[1])
}

func TestPlainJoinsInIndexOrder(t *testing.T) {
	results := []dispatch.Result{
		result(0, 0, "alpha"),
		result(1, 29700, ""),
		result(2, 59400, "  gamma "),
		result(3, 89100, "delta"),
	}
	assert.Equal(t, "alpha gamma delta", PlainText(results, 4))
	assert.Equal(t, "", PlainText(nil, 3))
}

func TestOutputIndependentOfArrivalOrder(t *testing.T) {
	plan := []segment.Bounds{
		{Index: 0, StartMs: 0, EndMs: 30000},
		{Index: 1, StartMs: 29700, EndMs: 59700},
		{Index: 2, StartMs: 59400, EndMs: 65000},
	}
	inOrder := []dispatch.Result{result(0, 0, "one"), result(1, 29700, "two"), result(2, 59400, "three")}
	reversed := slices.Clone(inOrder)
	slices.Reverse(reversed)

	for _, f := range []Format{Plain, Timed} {
		assert.Equal(t, Render(f, plan, inOrder, 65000), Render(f, plan, reversed, 65000), "format %s", f)
	}
	assert.Equal(t, "one two three", Render(Plain, plan, reversed, 65000))
}

func TestMissingResultReadsAsEmpty(t *testing.T) {
	plan := []segment.Bounds{{Index: 0, StartMs: 0, EndMs: 30000}, {Index: 1, StartMs: 29700, EndMs: 40000}}
	got := TimedText(plan, []dispatch.Result{result(1, 29700, "only"), result(7, 0, "stray")}, 40000)
	assert.Equal(t, "1\n00:00:29,700 --> 00:00:40,000\nonly\n", got)
}

func TestFormatTimestamp(t *testing.T) {
	testCases := map[int64]string{
		0:        "00:00:00,000",
		999:      "00:00:00,999",
		59400:    "00:00:59,400",
		3723004:  "01:02:03,004",
		36000000: "10:00:00,000",
		-5:       "00:00:00,000",
	}
	for ms, want := range testCases {
		assert.Equal(t, want, FormatTimestamp(ms))
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"plain": Plain, "TXT": Plain, "text": Plain, "timed": Timed, "srt": Timed, "": Timed} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("docx")
	assert.Error(t, err)
	assert.Equal(t, ".txt", Plain.Ext())
	assert.Equal(t, ".srt", Timed.Ext())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "call_transcription.txt")
	require.NoError(t, WriteFile(path, "terima kasih"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "terima kasih", string(data))
}
