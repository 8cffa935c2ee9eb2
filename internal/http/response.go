package http

import (
	"net/http"
	"time"
)

// TimingInfo breaks a request down into its connection phases. Phases that
// did not happen (a reused connection skips DNS, connect and TLS) are zero.
type TimingInfo struct {
	StartTime           time.Time
	DNSLookupTime       time.Duration
	TCPConnectTime      time.Duration
	TLSHandshakeTime    time.Duration
	TimeToFirstByte     time.Duration
	ContentTransferTime time.Duration
	TotalTime           time.Duration
}

// Response represents an HTTP response with its body already read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     TimingInfo
}

// BodyString returns the response body as a string
func (r *Response) BodyString() string {
	return string(r.Body)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true for 4xx and 5xx responses.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// BytesReceived is the body size.
func (r *Response) BytesReceived() int64 {
	return int64(len(r.Body))
}
