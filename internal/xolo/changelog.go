package xolo

import "time"

// ChangelogEntry is one append-only line in a title's changelog.jsonl.
// Version, Message, Attrib, Old, and New are all
// optional depending on what kind of event is being recorded.
type ChangelogEntry struct {
	Time    time.Time   `json:"time"`
	Admin   string      `json:"admin"`
	Host    string      `json:"host"`
	Version string      `json:"version,omitempty"`
	Message string      `json:"message,omitempty"`
	Attrib  string      `json:"attrib,omitempty"`
	Old     interface{} `json:"old,omitempty"`
	New     interface{} `json:"new,omitempty"`
}

// ProgressDoneSentinel terminates a progress-stream file. The tail reader
// (internal/progress) stops forwarding lines once it reads this exact
// line.
const ProgressDoneSentinel = "\x00XOLO-STREAM-DONE\x00"

// ProgressErrorPrefix marks a line in a progress-stream file as the
// terminal error report for a failed workflow.
const ProgressErrorPrefix = "ERROR: "
