// Package arena defines the core types and interfaces for the challenge
// lifecycle orchestrator: domain configuration, challenge metadata, the
// deployment and validation contracts, and the classified error type shared
// by every component.
package arena
