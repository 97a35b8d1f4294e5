// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with oto, PortAudio and WAV file backends
// Package output provides audio playback interfaces.
//
// Oto is the default device backend. PortAudio is available when built
// with -tags portaudio. WAV writes the stream to a file.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(44100, 2, 16)
//	err = out.Write(samples)
package output
