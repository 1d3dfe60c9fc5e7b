package textclean

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegexClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "tags stripped", in: "<p>Hello <b>world</b></p>", want: "Hello world"},
		{name: "multiline tag", in: "a<div\nclass=\"x\">b</div>", want: "ab"},
		{name: "whitespace collapsed", in: "  one\t\ttwo\n\nthree  ", want: "one two three"},
		{name: "symbols replaced", in: "price: $100 & rising*", want: "price: 100 rising"},
		{name: "punctuation runs", in: "Wait!!! Really?!... yes", want: "Wait. Really. yes"},
		{name: "allowed punctuation kept", in: `He said "hi" (twice) - it's fine; ok`, want: `He said "hi" (twice) - it's fine; ok`},
		{name: "unicode letters kept", in: "Café naïve Москва", want: "Café naïve Москва"},
		{name: "non-breaking space", in: "a\u00a0b", want: "a b"},
		{name: "symbol splits punctuation", in: "end.$.next", want: "end. .next"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Regex{}.Clean(tc.in))
		})
	}
}

func TestRegexCleanIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"<html><body><h1>Title</h1><p>Para one.. two!!</p></body></html>",
		"end.$.next",
		"a , b ; c :: d",
		"tabs\tand\nnewlines\r\nmixed   spaces",
		"emoji 🎉🎉 and symbols ©®™ mixed with text...!!",
		"<<nested <tags>> odd > brackets <",
		"Москва — столица; München ist schön!?",
		"!!!",
		"  ..leading dots and trailing ,,  ",
	}
	cleaner := Regex{}
	for _, in := range inputs {
		once := cleaner.Clean(in)
		require.Equal(t, once, cleaner.Clean(once), "input %q", in)
	}
}

func TestStopwordClean(t *testing.T) {
	cleaner := NewStopword()
	got := cleaner.Clean("<p>The market is rising and the traders are happy.</p>")
	require.Equal(t, "market rising traders happy.", got)
	require.Equal(t, got, cleaner.Clean(got))
	require.Equal(t, "", cleaner.Clean("<br/>"))
}

func TestStopwordNilSet(t *testing.T) {
	require.Equal(t, "quick fox", Stopword{}.Clean("the quick fox"))
}

func TestNew(t *testing.T) {
	cleaner, err := New("")
	require.NoError(t, err)
	require.IsType(t, Regex{}, cleaner)

	cleaner, err = New("Stopword")
	require.NoError(t, err)
	require.IsType(t, Stopword{}, cleaner)

	_, err = New("spacy")
	require.Error(t, err)
}
