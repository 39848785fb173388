package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/floatbase/internal/monitoring"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// statusRecorder remembers the status and body size a handler produced.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func statusCodeColor(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 400:
		return colorBoldRed + s + colorReset
	case code >= 300:
		return colorYellow + s + colorReset
	case code >= 200:
		return colorBoldGreen + s + colorReset
	}
	return s
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// LoggingMiddleware logs each request with its status, size and latency,
// and counts it by status class. Metric scrapes are only logged verbosely.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		monitoring.HTTPRequestsTotal.WithLabelValues(statusClass(rec.status)).Inc()
		logf := monitoring.Logf
		if strings.HasPrefix(r.URL.Path, "/metrics") {
			logf = monitoring.Debugf
		}
		logf("[api] [%s] %s %s%s%s %dB %.2fms",
			statusCodeColor(rec.status), r.Method,
			colorCyan, r.RequestURI, colorReset,
			rec.bytes, float64(time.Since(start).Microseconds())/1e3)
	})
}
