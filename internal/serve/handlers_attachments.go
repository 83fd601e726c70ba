package serve

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
)

// multipartOverhead is allowed on top of the file size for part headers and
// boundaries.
const multipartOverhead = 64 << 10

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	atts, err := s.svc.ListAttachments(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "list attachments", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"attachments": AttachmentsToDTOs(atts)}, http.StatusOK)
}

// handleUploadAttachment streams the multipart "file" part into blob
// storage without buffering it in memory.
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		WriteError(w, ErrValidation, "expected multipart/form-data body", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeUploadError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		body := &limitedReader{r: part, n: s.config.MaxUploadBytes}
		a, err := s.svc.UploadAttachment(r.Context(), principal(r), r.PathValue("id"), part.FileName(), body)
		part.Close()
		if err != nil {
			s.writeUploadError(w, r, err)
			return
		}
		WriteSuccess(w, map[string]interface{}{"attachment": AttachmentToDTO(a)}, http.StatusCreated)
		return
	}

	WriteValidation(w, []FieldError{{Field: "file", Rule: "required", Message: "a file is required"}})
}

func (s *Server) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, errFileTooLarge) {
		WriteError(w, ErrTooLarge, "file exceeds the maximum upload size of "+strconv.FormatInt(s.config.MaxUploadBytes, 10)+" bytes", http.StatusRequestEntityTooLarge)
		return
	}
	writeServiceError(w, r, "upload attachment", err)
}

var errFileTooLarge = errors.New("file too large")

// limitedReader fails once more than n bytes are read, unlike io.LimitReader
// which truncates silently.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, errFileTooLarge
	}
	return n, err
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	a, rc, err := s.svc.OpenAttachment(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "download attachment", err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(a.Filename))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("stream attachment", "attachment", a.ID, "err", err, "request_id", RequestID(r.Context()))
	}
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteAttachment(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, "delete attachment", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"deleted": true, "id": id}, http.StatusOK)
}
