// Package netstatus tracks host connectivity for the offline data layer.
//
// A Detector holds a single online/offline boolean seeded from the host's
// reported state and updated only by host change notifications. There is
// no polling. Transitions are edge-triggered: repeating the current state
// is ignored, and an offline-to-online edge raises a one-shot "was offline"
// flag that the sync manager consumes to schedule a queue drain.
//
// If the host never reports a transition the detector keeps its last known
// state. Callers that write re-validate reachability by attempting the
// request, so a stale "online" costs one failed call, not lost data.
//
// FileSource is a host signal adapter: it watches a marker file with
// fsnotify and reports "online" while the file exists. A NetworkManager
// dispatcher script (or any supervisor) can create and remove the file.
package netstatus
