package attachments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/cors"
)

// Handler serves GET /<hash><fileIndex>/<attachmentIndex>. Every failure is
// reported as 500 with a JSON error body.
func (x *Index) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{key}/{number}", x.serveAttachment)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errors.New("invalid request"))
	})
	return cors.AllowAll().Handler(mux)
}

func (x *Index) serveAttachment(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, errors.New("invalid request"))
		return
	}
	e := x.lookup(r.PathValue("key"))
	if e == nil {
		writeError(w, errors.New("file not found"))
		return
	}
	hdr, err := e.wait(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if number < 0 || number >= len(hdr.Attachments) {
		writeError(w, errors.New("attachment not found"))
		return
	}
	att := hdr.Attachments[number]
	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.Data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
