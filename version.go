// Package fitclip holds module-wide metadata shared by the CLI and API.
package fitclip

// Version is the current fitclip release version.
const Version = "0.4.2"
