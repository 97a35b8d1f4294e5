// ABOUTME: Version information for flacrelay
// ABOUTME: Reported by the version command and the relay service
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.1.0"

const (
	Product      = "flacrelay"
	Manufacturer = "Resonate Protocol"
)

// String returns the product and version
func String() string {
	return Product + " " + Version
}
