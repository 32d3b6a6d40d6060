package httpapi

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"scribe/internal/api"
	"scribe/internal/export"
	"scribe/internal/ingest"
	"scribe/internal/queue"
	"scribe/internal/services"
)

// multipartMemory bounds the part of an upload kept in memory; the rest is
// spooled to temporary files by the multipart parser.
const multipartMemory = 32 << 20

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		writeJSON(w, http.StatusOK, api.DaemonStatus{Running: true})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Status(r.Context()))
}

func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				h.writeError(w, r, services.Wrap(services.ErrValidation, "jobs", "list", "unknown status "+strconv.Quote(part), nil))
				return
			}
			statuses = append(statuses, status)
		}
	}
	jobs, err := h.deps.Jobs.List(r.Context(), user.ID, statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.deps.Jobs.Describe(r.Context(), currentUser(r.Context()).ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Jobs.Delete(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.deps.Jobs.Load(r.Context(), currentUser(r.Context()).ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.deps.Exporter.Export(r.Context(), job, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, services.Wrap(services.ErrValidation, "upload", "parse", "multipart form with files[] is required", nil))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files[]"]
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["file"]...)
	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadedFile(fh))
	}

	opts := ingest.Options{
		Mode:               r.FormValue("mode"),
		SourceLanguage:     r.FormValue("language"),
		TargetLanguage:     r.FormValue("target_language"),
		RestoreAudio:       formBool(r.FormValue("restore_audio")),
		SpeakerRecognition: formBool(r.FormValue("speaker_recognition")),
	}
	result, err := h.deps.Uploader.Submit(r.Context(), user.ID, files, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := api.FromUpload(*result)
	if len(resp.Jobs) == 0 {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error:     services.Kind(services.ErrValidation),
			Detail:    "no file was accepted",
			Rejected:  resp.Rejected,
			RequestID: w.Header().Get(requestIDHeader),
		})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func uploadedFile(fh *multipart.FileHeader) ingest.File {
	return ingest.File{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

func (h *handler) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		// Non-numeric ids can never name a job.
		h.writeError(w, r, services.Wrap(services.ErrNotFound, "jobs", "get", "job "+strconv.Quote(raw)+" not found", nil))
		return 0, false
	}
	return id, true
}
