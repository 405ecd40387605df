package commerce

import (
	"net/http"

	"github.com/stevemurr/jsondb/dberr"
)

// Success statuses by kind of operation.
const (
	StatusRead    = http.StatusOK
	StatusCreated = http.StatusCreated
	StatusChanged = http.StatusAccepted
)

// Response is the {status, message} pair handed to whatever front end sits
// on top of the service. Message is the payload on success and a readable
// error string otherwise.
type Response struct {
	Status  int `json:"status"`
	Message any `json:"message"`
}

// Success reports whether the status is in the 2xx family.
func (r Response) Success() bool {
	return r.Status/100 == 2
}

// Respond builds a Response from an operation result.
func Respond(v any, err error, okStatus int) Response {
	if err != nil {
		return Response{Status: dberr.Status(err), Message: err.Error()}
	}
	return Response{Status: okStatus, Message: v}
}
