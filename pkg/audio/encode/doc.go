// ABOUTME: Streaming FLAC encoder package
// ABOUTME: Encodes interleaved PCM into FLAC frames pushed as they are produced
// Package encode provides a streaming FLAC encoder.
//
// StreamEncoder pushes the stream header when it is created and one chunk
// per frame as soon as a full block of samples is available. Finish encodes
// the trailing partial block and completes the STREAMINFO block, which can
// be written back over the header when the output is seekable.
//
// Example:
//
//	enc, err := encode.NewStream(encode.Config{
//		SampleRate: 44100,
//		Channels:   2,
//		Push:       relay.PushFunc(send),
//	})
//	err = enc.ProcessInt16(samples)
//	err = enc.Finish()
package encode
