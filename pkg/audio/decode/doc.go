// ABOUTME: Streaming FLAC decoder package
// ABOUTME: Queue-fed, pull-fed and file decoders plus a chunked PCM decoder
// Package decode turns FLAC streams into interleaved PCM.
//
// StreamDecoder accepts FLAC bytes in chunks of any size and decodes them on
// a background worker. PullDecoder fetches input from a relay.Puller on the
// caller's goroutine. FileDecoder writes a FLAC file out as WAV.
//
// Samples are native depth: a 16-bit stream yields values in the int16
// range, a 24-bit stream values in the 24-bit range.
//
// Example:
//
//	dec, err := decode.NewStream(decode.StreamConfig{
//		Callback: func(buf *audio.Buffer) error {
//			return play(buf.Samples)
//		},
//	})
//	for chunk := range chunks {
//		dec.Process(chunk)
//	}
//	err = dec.Finish()
package decode
