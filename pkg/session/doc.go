// Package session drives the challenge lifecycle state machine. One
// engine owns one player session against one domain: it sequences health
// checks, safety gates, deployment, flag validation, and cleanup, and it
// is the only component allowed to mutate session state.
package session
