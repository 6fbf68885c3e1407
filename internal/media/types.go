package media

// Audio is a captured audio clip handed to a transcription chain.
type Audio struct {
	Data   []byte
	Format string // file extension without the dot, e.g. "wav", "mp3"
}

// CoverSpec describes the cover illustration to generate for a book.
type CoverSpec struct {
	Title  string
	Themes []string
}

// Image is a generated illustration. Providers return a hosted URL, inline
// bytes, or both.
type Image struct {
	URL  string
	Data []byte
}

// Chain kinds, also used as FailedMedia keys.
const (
	KindTTS   = "tts"
	KindSTT   = "stt"
	KindImage = "image"
)

// TTSChain converts recommendation text to spoken audio.
type TTSChain = Chain[string, []byte]

// STTChain converts captured audio to text.
type STTChain = Chain[Audio, string]

// ImageChain generates a cover illustration.
type ImageChain = Chain[CoverSpec, Image]
