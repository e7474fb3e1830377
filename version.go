package loom

const (
	// Version of the framework
	Version = "0.1.0"
	// VersionPrefix
	VersionPrefix = "loom"
)
