// Package commands implements the privcomm CLI surface.
package commands
