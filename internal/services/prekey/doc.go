// Package prekey mints signed and one-time pre-keys and keeps the published
// bundle stocked.
package prekey
