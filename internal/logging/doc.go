// Package logging provides file-based logging with rotation for sift.
// siftd always writes JSON logs to ~/.sift/logs/server.log and to stderr,
// at info level by default and at debug level when the --debug flag is set.
package logging
