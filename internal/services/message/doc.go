// Package message bridges sessions and the realtime channel for text traffic.
package message
