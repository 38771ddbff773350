// Command cutline drives a headless playback backend for the transcript
// editor from the terminal.
//
// The play command loads a WAV file, installs an optional clip timeline and
// reads transport commands from stdin. The hidden backend command is the
// built-in reference backend that play starts by default.
package main
