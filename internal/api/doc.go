// Package api exposes the admin REST interface used to inspect registered
// plugins, drive their lifecycle and read the recent event journal.
package api
