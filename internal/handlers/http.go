package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"sigscope/internal/capture"
	"sigscope/internal/engine"
	"sigscope/internal/models"
	"sigscope/internal/pdu"
	"sigscope/internal/rebuild"
	"sigscope/internal/send"
)

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, eng *engine.Engine, maxUpload int64, log zerolog.Logger) {
	log = log.With().Str("component", "http").Logger()

	mux.HandleFunc("/ws", HandleWebSocket(eng, log))

	mux.HandleFunc("/api/open", handleOpen(eng, maxUpload))
	mux.HandleFunc("/api/replay", handleReplay(eng))
	mux.HandleFunc("/api/encode", handleEncode(eng))
	mux.HandleFunc("/api/flows", handleFlows(eng))
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStructuralViolation),
		errors.Is(err, pdu.ErrUnsupportedMessageSet),
		errors.Is(err, pdu.ErrDecode),
		errors.Is(err, pdu.ErrEncode),
		errors.Is(err, capture.ErrUnknownFormat),
		errors.Is(err, rebuild.ErrNoNetworkLayer),
		errors.Is(err, send.ErrMalformedPacket):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorPayload{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleOpen accepts a capture either as multipart field "file" or as the
// raw request body.
func handleOpen(eng *engine.Engine, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		var src io.Reader = r.Body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxUpload); err != nil {
				writeError(w, http.StatusBadRequest, "file too large or malformed form: "+err.Error())
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "missing file")
				return
			}
			defer file.Close()
			src = file
		}

		data, err := io.ReadAll(src)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}
		res, err := eng.LoadCapture(data)
		if err != nil {
			writeError(w, StatusFor(err), "failed to read capture: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleReplay(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		var req models.ReplayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid replay request: "+err.Error())
			return
		}
		if _, err := eng.Replay(req); err != nil {
			writeError(w, StatusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleEncode(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		var req models.EncodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid encode request: "+err.Error())
			return
		}
		out, err := eng.EncodeMessage(req)
		if err != nil {
			writeError(w, StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, models.EncodeResponse{Hex: out})
	}
}

func handleFlows(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		writeJSON(w, http.StatusOK, eng.Flows())
	}
}
