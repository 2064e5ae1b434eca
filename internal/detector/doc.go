// Package detector reports grid serial devices as they appear.
//
// On start it reports every matching node already present in the device
// directory, then every node created afterwards. A node that disappears
// and comes back is reported again. On Linux new nodes are seen through
// inotify on the device directory; elsewhere the directory is rescanned
// periodically.
//
// The detector only ever reports device paths. Deciding what to do with
// them is the supervisor's job.
package detector
