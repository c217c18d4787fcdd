package types

// Version is the canonical project version.
// The controller wire protocol version is tracked separately in ipc.Version.
const Version = "2.8.1"
