// ABOUTME: Build identification for wsdsp binaries
// ABOUTME: Reported by -version output and the server startup log
package version

const (
	Version      = "0.3.0"
	Product      = "wsdsp"
	Manufacturer = "Faint Signals"
)

// String returns "product version".
func String() string {
	return Product + " " + Version
}
