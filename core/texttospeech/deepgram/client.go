package deepgram

import (
	"fmt"
	"os"
	"slices"

	"github.com/kajovic/liora-core/core/audio"
)

type deepgramVoice string

const (
	VoiceAuraAsteria  deepgramVoice = "aura-2-asteria-en"
	VoiceAuraThalia   deepgramVoice = "aura-2-thalia-en"
	VoiceAuraOrion    deepgramVoice = "aura-2-orion-en"
	VoiceAuraArcas    deepgramVoice = "aura-2-arcas-en"
	VoiceAuraSelene   deepgramVoice = "aura-2-selene-en"
	VoiceAuraHyperion deepgramVoice = "aura-2-hyperion-en"

	defaultVoice = VoiceAuraThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceAuraAsteria,
		VoiceAuraThalia,
		VoiceAuraOrion,
		VoiceAuraArcas,
		VoiceAuraSelene,
		VoiceAuraHyperion,
	}
}

// TextToSpeechClient is a factory for synthesis sessions against the
// Deepgram speak API. One session is opened per spoken response and
// discarded afterwards.
type TextToSpeechClient struct {
	apiKey   string
	voice    deepgramVoice
	encoding audio.EncodingInfo
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithVoice(voice deepgramVoice) ClientOption {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

func WithEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) { c.encoding = encoding }
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		voice:    defaultVoice,
		encoding: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	if !slices.Contains(GetAvailableVoices(), client.voice) {
		return nil, fmt.Errorf("invalid voice %q", client.voice)
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}
