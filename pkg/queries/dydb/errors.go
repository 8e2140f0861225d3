package dydb

import "fmt"

// MapExistsError is returned when the atomic reservation loses to an
// existing record for the same content.
type MapExistsError struct {
	MapId   string
	MapName string
}

func (e *MapExistsError) Error() string {
	return fmt.Sprintf("map record already exists: %s / %s", e.MapId, e.MapName)
}

type MapNotFoundError struct {
	MapId   string
	MapName string
}

func (e *MapNotFoundError) Error() string {
	return fmt.Sprintf("map record does not exist: %s / %s", e.MapId, e.MapName)
}

type JobNotFoundError struct {
	JobId string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job record does not exist: %s", e.JobId)
}
