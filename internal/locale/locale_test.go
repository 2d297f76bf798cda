package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "ar", want: "ar", wantOK: true},
		{in: "FR", want: "fr", wantOK: true},
		{in: "fr-CA", want: "fr", wantOK: true},
		{in: "en_US", want: "en", wantOK: true},
		{in: " en ", want: "en", wantOK: true},
		{in: "de", wantOK: false},
		{in: "", wantOK: false},
		{in: "not a tag", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogueComplete(t *testing.T) {
	keys := []Key{
		Welcome, Help, Analyzing, ProductFound, BuyButton, DeveloperButton, NotIdentified,
		GenericError, StorageError, LanguageSaved, UnsupportedLanguage, UnknownCommand, EmptyPhoto,
	}
	for _, lang := range Supported {
		for _, key := range keys {
			_, ok := catalogue[lang][key]
			assert.True(t, ok, "missing %s for %s", key, lang)
		}
	}
}

func TestText_FallsBackToEnglish(t *testing.T) {
	assert.Equal(t, catalogue[English][Help], Text("de", Help))
	assert.Equal(t, "no_such_key", Text(French, Key("no_such_key")))
}

func TestTextf(t *testing.T) {
	got := Textf(English, ProductFound, "Kindle", "AMAZON.COM")
	assert.Contains(t, got, "<code>Kindle</code>")
	assert.Contains(t, got, "<code>AMAZON.COM</code>")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Français 🇫🇷", Label(French))
	assert.Equal(t, "xx", Label("xx"))
	for _, code := range Supported {
		assert.True(t, IsSupported(code))
	}
}
