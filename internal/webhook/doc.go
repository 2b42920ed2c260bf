// Package webhook serves an HMAC-signed HTTP endpoint external
// provisioning systems can call to hand the daemon a DHCP lease
// without going through a connected Dhcp-role plugin -- the same
// GotDhcpLease event an in-process plugin would otherwise send, just
// sourced over HTTP instead of the plugin socket.
package webhook
