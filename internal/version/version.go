package version

// Version is the release of the peer-weaver binary
const Version = "0.2.0"
