// Package safety implements the command-gating engine. A guard holds an
// ordered sequence of regex patterns tagged with a severity; candidate
// commands are evaluated in declaration order and the first match decides
// the verdict. Critical matches are blocked unconditionally, warning
// matches require interactive confirmation, and non-interactive contexts
// fail safe.
package safety
