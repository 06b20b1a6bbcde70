package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = DriverSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// DriverName identifies this client in the open handshake.
	DriverName = "remotestore Go"

	// DriverSemVer is the semantic version of the driver.
	DriverSemVer = "0.3.0"

	// ProtocolVersion is the binary protocol revision spoken by the driver.
	// Servers refuse handshakes with a revision they do not support.
	ProtocolVersion int16 = 38
)
