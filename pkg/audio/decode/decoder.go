// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for chunk-oriented decoders
package decode

// Decoder converts encoded chunks to interleaved int32 samples
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

var _ Decoder = (*PCMDecoder)(nil)
