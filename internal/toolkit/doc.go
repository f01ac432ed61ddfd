// Package toolkit is the collaborator surface of sprocket: a catalog of
// named media operations and the facade that answers lookups from the cache,
// runs the engine on misses, and commits finished artifacts back into the
// registry. It is the only component that invokes ffmpeg.
package toolkit
