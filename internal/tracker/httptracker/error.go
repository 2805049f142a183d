package httptracker

import (
	"net/http"
	"strconv"
)

const maxErrorBodyLength = 100

// StatusError is returned from HTTP tracker announces when the response code is not 200 OK.
type StatusError struct {
	Code   int
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	s := "http status: " + strconv.Itoa(e.Code)
	if e.Body == "" {
		return s
	}
	body := e.Body
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	return s + " body: " + strconv.Quote(body)
}
