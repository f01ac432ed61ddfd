// Package ffmpeg shells out to the ffmpeg binary and reports structured
// progress. The binary is treated as an opaque engine: callers hand it a
// fully built argument list and an expected output path, and get back either
// a non-empty output file or an error tagged services.ErrExternalTool.
package ffmpeg
