// Package logger records what a handler wrote so request logs can report it.
package logger

import "net/http"

// ResponseLogger is an http.ResponseWriter that remembers the status code and
// body size of the response.
type ResponseLogger struct {
	w           http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func New(w http.ResponseWriter) *ResponseLogger {
	return &ResponseLogger{w: w, status: http.StatusOK}
}

func (l *ResponseLogger) WriteHeader(code int) {
	if l.wroteHeader {
		return
	}
	l.wroteHeader = true
	l.status = code
	l.w.WriteHeader(code)
}

func (l *ResponseLogger) Write(b []byte) (int, error) {
	if !l.wroteHeader {
		l.WriteHeader(http.StatusOK)
	}
	n, err := l.w.Write(b)
	l.bytes += n
	return n, err
}

func (l *ResponseLogger) Header() http.Header {
	return l.w.Header()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (l *ResponseLogger) Unwrap() http.ResponseWriter {
	return l.w
}

func (l *ResponseLogger) Status() int {
	return l.status
}

func (l *ResponseLogger) Bytes() int {
	return l.bytes
}
