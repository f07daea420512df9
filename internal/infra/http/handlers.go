package http

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"evidencia/internal/domain"
	"evidencia/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	uploadField = "file"
	// multipart framing on top of the file itself
	multipartOverhead = 1 << 20
)

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

type proofResponse struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	Timestamp   int64  `json:"timestamp"`
	Filename    string `json:"filename"`
	Mimetype    string `json:"mimetype"`
	TxHash      string `json:"txHash"`
	URI         string `json:"uri"`
	QR          string `json:"qr"`
	ImageURL    string `json:"imageUrl"`
	Note        string `json:"note,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

func toProofResponse(record domain.ProofRecord) proofResponse {
	return proofResponse{
		ID:        record.ID,
		Hash:      record.ContentHash,
		Timestamp: record.Timestamp,
		Filename:  record.Filename,
		Mimetype:  record.Mimetype,
		TxHash:    record.AnchorTxRef,
		URI:       record.VerificationURI,
		QR:        record.VerificationCode,
		ImageURL:  record.MediaReference,
		Note:      record.AnchorNote,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	anchoring := "local"
	if s.anchored {
		anchoring = "chain"
	}
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "anchoring": anchoring})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "anchoring": anchoring})
}

func (s *Server) handleCertify(c *gin.Context) {
	if s.certify == nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "certification is not configured")
		return
	}
	maxBytes := s.cfg.MaxUploadBytes
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
	}
	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(c, domain.ErrPayloadTooLarge)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeError(c, domain.ErrFileRequired)
		default:
			writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", "malformed multipart upload")
		}
		return
	}
	if maxBytes > 0 && header.Size > maxBytes {
		writeError(c, domain.ErrPayloadTooLarge)
		return
	}
	content, err := readUpload(header, maxBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	origin := requestOrigin(c)
	result, err := s.certify.Certify(c.Request.Context(), usecase.CertifyRequest{
		Content:  content,
		Filename: header.Filename,
		Mimetype: header.Header.Get("Content-Type"),
		Origin:   origin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	resp := toProofResponse(result.Record)
	resp.Note = result.Note
	if strings.HasPrefix(resp.ImageURL, "/") {
		resp.ImageURL = s.publicOrigin(origin) + resp.ImageURL
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.verify == nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "verification is not configured")
		return
	}
	resolved, err := s.verify.Verify(c.Request.Context(), c.Param("id"), requestOrigin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := toProofResponse(resolved.Record)
	resp.QR = resolved.VerificationCode
	resp.ExplorerURL = resolved.ExplorerURL
	if resolved.HasMedia {
		resp.MediaURL = resolved.MediaURL
		resp.ImageURL = resolved.MediaURL
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "history is not configured")
		return
	}
	records, err := s.history.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]proofResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toProofResponse(record))
	}
	c.JSON(http.StatusOK, out)
}

// handleMedia serves stored media. Dot files, which include in-progress
// writes, are never exposed.
func (s *Server) handleMedia(c *gin.Context) {
	name := path.Base(path.Clean("/" + c.Param("filepath")))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "media not found")
		return
	}
	c.FileFromFS(name, gin.Dir(s.mediaDir, false))
}

func readUpload(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, domain.ErrPayloadTooLarge
	}
	return content, nil
}

// requestOrigin rebuilds scheme://host as the client saw it.
func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}
	host := c.Request.Host
	if forwarded := firstHeaderValue(c.GetHeader("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

func (s *Server) publicOrigin(requested string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/")
	}
	return requested
}

func firstHeaderValue(value string) string {
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func writeError(c *gin.Context, err error) {
	var admission *domain.AdmissionError
	if errors.As(err, &admission) {
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "ADMISSION_DENIED",
			Message: "upload rejected by admission policy",
			Reasons: admission.Reasons,
		})
		return
	}

	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, domain.ErrPayloadTooLarge):
		status, code, message = http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit"
	case errors.Is(err, domain.ErrFileRequired):
		status, code, message = http.StatusBadRequest, "FILE_REQUIRED", "File is required"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key"
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "Proof not found"
	case errors.Is(err, domain.ErrAnchorFailure):
		status, code, message = http.StatusBadGateway, "ANCHOR_FAILED", "blockchain anchoring failed"
		var anchorErr *domain.AnchorError
		if errors.As(err, &anchorErr) && anchorErr.Code != "" {
			message += " (" + anchorErr.Code + ")"
		}
	case errors.Is(err, domain.ErrStorageFailure):
		status, code, message = http.StatusInternalServerError, "STORAGE_FAILED", "proof could not be stored"
	}
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		_ = c.Error(err)
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
