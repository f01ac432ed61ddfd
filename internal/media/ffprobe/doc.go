// Package ffprobe inspects media containers by shelling out to the ffprobe
// binary and decoding its JSON report. The raw payload is preserved so the
// analyze operation can persist it verbatim as a metadata document.
package ffprobe
