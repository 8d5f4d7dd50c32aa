// Package fallback builds the responses served when neither the network nor
// a cache can satisfy a request.
package fallback

import (
	"encoding/json"
	"net/http"
)

// DefaultMessage is the message carried by the offline JSON payload
const DefaultMessage = "You are offline. Data will refresh once the connection is restored."

// Payload is the body of a synthesized offline API response
type Payload struct {
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

const offlineSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">` +
	`<rect width="200" height="200" fill="#e5e7eb"/>` +
	`<text x="100" y="105" font-family="sans-serif" font-size="20" fill="#6b7280" text-anchor="middle">Offline</text>` +
	`</svg>`

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available without a connection. Please try again later.</p>
</body>
</html>
`

// OfflineJSON writes a successful but degraded JSON payload
func OfflineJSON(res http.ResponseWriter, message string) {
	if message == "" {
		message = DefaultMessage
	}
	body, _ := json.Marshal(Payload{Offline: true, Message: message})
	write(res, http.StatusOK, "application/json", body)
}

// OfflineImage writes a placeholder svg image labeled "Offline"
func OfflineImage(res http.ResponseWriter) {
	write(res, http.StatusOK, "image/svg+xml", []byte(offlineSVG))
}

// OfflinePage writes the built-in offline document
func OfflinePage(res http.ResponseWriter) {
	write(res, http.StatusOK, "text/html; charset=utf-8", []byte(offlineHTML))
}

// Unavailable writes a 503 with a plain text body
func Unavailable(res http.ResponseWriter) {
	write(res, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte("Service Unavailable: offline"))
}

func write(res http.ResponseWriter, status int, contentType string, body []byte) {
	res.Header().Set("Content-Type", contentType)
	res.Header().Set("Cache-Control", "no-store")
	res.WriteHeader(status)
	res.Write(body)
}
