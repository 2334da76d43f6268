// Package ffprobe shells out to ffprobe and exposes the container and stream
// facts the identity service and feature extractor consume.
package ffprobe
