// Package assemble joins completed segment clips into one output file.
//
// Clips are ordered strictly by segment index, joined with ffmpeg's concat
// demuxer without re-encoding, and optionally muxed against a separate audio
// track. The result reports which segment indices made it in and which are
// missing, so partial runs are visible rather than silently shortened.
package assemble
