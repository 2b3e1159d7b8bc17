// Package identity creates and loads the local long-term key pairs.
package identity
