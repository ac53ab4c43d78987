package audio

// Format constants shared by the capture, codec and playback layers.
const (
	// Negotiated wire format.
	SampleRate  = 24_000 // Hz
	Channels    = 1
	FormatPCM16 = "pcm16"

	// One transmission chunk: 1 second of audio at 24 kHz.
	ChunkSamples = SampleRate

	// Playback edge treatment.
	PaddingSamples  = 240 // 10 ms of silence at each edge
	FadeSamples     = 240 // 10 ms linear gain ramp
	PlaybackGain    = 0.7
	LowPassCutoffHz = 8_000
)
