package mapschema

import "time"

// Status describes the lifecycle of a single map record.
//
// RESERVED is written by the presigned-url issuer before any bytes exist in
// S3. QUEUED means the object landed in the input bucket, DISPATCHED that a
// processing task was launched, PROCESSING that the task picked the map up.
// COMPLETED and FAILED are terminal.
type Status int64

const (
	Reserved Status = iota
	Queued
	Dispatched
	Processing
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Reserved:
		return "RESERVED"
	case Queued:
		return "QUEUED"
	case Dispatched:
		return "DISPATCHED"
	case Processing:
		return "PROCESSING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	}
	return "RESERVED"
}

// Dict maps the stored string representation back to a Status.
var Dict = map[string]Status{
	"RESERVED":   Reserved,
	"QUEUED":     Queued,
	"DISPATCHED": Dispatched,
	"PROCESSING": Processing,
	"COMPLETED":  Completed,
	"FAILED":     Failed,
}

// InFlight reports whether a map is currently owned by the pipeline. A
// re-upload of the same content must not be admitted while this holds, as it
// would double-process the map.
func (s Status) InFlight() bool {
	switch s {
	case Queued, Dispatched, Processing:
		return true
	}
	return false
}

// Terminal reports whether the status can change without a new upload.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// ReservationTTL is how long a RESERVED record blocks re-reservation. It
// matches the expiry of the presigned upload url: after that the url is
// unusable, so the reservation can never be fulfilled.
const ReservationTTL = 15 * time.Minute

// CanRetry decides whether a re-upload of identical content may take over an
// existing record. FAILED maps may always be retried, COMPLETED maps may be
// reprocessed, and a RESERVED record whose upload url has expired is
// reclaimable. Everything else is in flight.
func CanRetry(current Status, updatedAt time.Time, now time.Time) bool {
	switch current {
	case Failed, Completed:
		return true
	case Reserved:
		return now.Sub(updatedAt) > ReservationTTL
	}
	return false
}

// JobStatus describes the lifecycle of a batch upload job.
type JobStatus int64

const (
	JobQueued JobStatus = iota
	JobDispatched
	JobProcessing
	JobCompleted
	JobPartialSuccess
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "QUEUED"
	case JobDispatched:
		return "DISPATCHED"
	case JobProcessing:
		return "PROCESSING"
	case JobCompleted:
		return "COMPLETED"
	case JobPartialSuccess:
		return "PARTIAL_SUCCESS"
	case JobFailed:
		return "FAILED"
	}
	return "QUEUED"
}

// ResolveJob returns the terminal status for a finished batch.
func ResolveJob(processed int, failed int) JobStatus {
	switch {
	case failed == 0:
		return JobCompleted
	case processed == 0:
		return JobFailed
	}
	return JobPartialSuccess
}
