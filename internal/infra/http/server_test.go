package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evidencia/internal/config"
	"evidencia/internal/domain"
	"evidencia/internal/infra/anchor"
	cryptoinfra "evidencia/internal/infra/crypto"
	"evidencia/internal/infra/db"
	"evidencia/internal/infra/media"
	"evidencia/internal/infra/policyopa"
	"evidencia/internal/infra/qrcode"
	"evidencia/internal/infra/ratelimit"
	"evidencia/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type testServer struct {
	server   *Server
	mediaDir string
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	dir := t.TempDir()
	store, err := db.OpenSQLite(ctx, filepath.Join(dir, "evidencia.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mediaStore, err := media.NewStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	engine, err := policyopa.NewEngine(ctx, "")
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}

	proofs := db.NewProofRepository(store.DB)
	codes := qrcode.NewGenerator(0)
	logger := zerolog.Nop()
	anchorSvc := anchor.NewService(nil, db.NewAnchorAttemptRepository(store.DB), 0, logger)

	srv := NewServerWithDeps(cfg, ServerDeps{
		Certify: &usecase.Certifier{
			Proofs:         proofs,
			Media:          mediaStore,
			Codes:          codes,
			Anchor:         anchorSvc,
			Admission:      engine,
			MaxUploadBytes: cfg.MaxUploadBytes,
			SniffMimetype:  media.ResolveMimetype,
			Logger:         logger,
		},
		Verify: &usecase.Verifier{
			Proofs:  proofs,
			Locator: media.NewLocator(mediaStore),
			Codes:   codes,
			Logger:  logger,
		},
		History:     &usecase.History{Proofs: proofs},
		MediaDir:    mediaStore.Dir(),
		Ready:       store.Ping,
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		Logger:      logger,
	})
	return &testServer{server: srv, mediaDir: mediaStore.Dir()}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.r.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, field, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeProof(t *testing.T, rec *httptest.ResponseRecorder) proofResponse {
	t.Helper()
	var resp proofResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode proof: %v body=%s", err, rec.Body.String())
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v body=%s", err, rec.Body.String())
	}
	return resp
}

func TestCertifyThenVerify(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	content := []byte("frame bytes")

	rec := ts.do(multipartRequest(t, "/api/certify", "file", "clip.mp4", "video/mp4", content))
	if rec.Code != http.StatusOK {
		t.Fatalf("certify status = %d body=%s", rec.Code, rec.Body.String())
	}
	certified := decodeProof(t, rec)
	if certified.Hash != cryptoinfra.Fingerprint(content) {
		t.Fatalf("hash = %s", certified.Hash)
	}
	if certified.TxHash != domain.LocalOnlyTxRef {
		t.Fatalf("txHash = %s", certified.TxHash)
	}
	if certified.Note == "" {
		t.Fatalf("expected local-only note")
	}
	if certified.URI != "http://example.com/public/verify.html?id="+certified.ID {
		t.Fatalf("uri = %s", certified.URI)
	}
	if !strings.HasPrefix(certified.QR, "data:image/png;base64,") {
		t.Fatalf("qr = %.40s", certified.QR)
	}
	wantImage := "http://example.com/uploads/" + certified.ID + ".mp4"
	if certified.ImageURL != wantImage {
		t.Fatalf("imageUrl = %s, want %s", certified.ImageURL, wantImage)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/verify/"+certified.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d body=%s", rec.Code, rec.Body.String())
	}
	verified := decodeProof(t, rec)
	if verified.Hash != certified.Hash || verified.Timestamp != certified.Timestamp {
		t.Fatalf("verify mismatch: %+v vs %+v", verified, certified)
	}
	if verified.MediaURL != wantImage {
		t.Fatalf("mediaUrl = %s", verified.MediaURL)
	}
	if verified.ExplorerURL != "" {
		t.Fatalf("local-only proof must not link an explorer")
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/uploads/"+certified.ID+".mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("media status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("media body mismatch")
	}
}

func TestCertifyHonorsForwardedOrigin(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	req := multipartRequest(t, "/api/certify", "file", "a.png", "image/png", []byte("png-ish"))
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "proofs.example.org")

	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeProof(t, rec)
	if !strings.HasPrefix(resp.URI, "https://proofs.example.org/public/verify.html?id=") {
		t.Fatalf("uri = %s", resp.URI)
	}
}

func TestCertifyMissingFile(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(multipartRequest(t, "/api/certify", "attachment", "a.txt", "text/plain", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "FILE_REQUIRED" {
		t.Fatalf("code = %s", got.Code)
	}
}

func TestCertifyEmptyFile(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(multipartRequest(t, "/api/certify", "file", "a.txt", "text/plain", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "FILE_REQUIRED" {
		t.Fatalf("code = %s", got.Code)
	}
}

func TestCertifyTooLarge(t *testing.T) {
	ts := newTestServer(t, config.Config{MaxUploadBytes: 16})
	rec := ts.do(multipartRequest(t, "/api/certify", "file", "a.bin", "", bytes.Repeat([]byte("x"), 32)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec); got.Code != "FILE_TOO_LARGE" {
		t.Fatalf("code = %s", got.Code)
	}
	entries, err := os.ReadDir(ts.mediaDir)
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d files", len(entries))
	}
}

func TestCertifyAdmissionDenied(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	name := strings.Repeat("n", 300) + ".txt"
	rec := ts.do(multipartRequest(t, "/api/certify", "file", name, "text/plain", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeError(t, rec)
	if got.Code != "ADMISSION_DENIED" {
		t.Fatalf("code = %s", got.Code)
	}
	if len(got.Reasons) != 1 || !strings.HasPrefix(got.Reasons[0], "FILENAME_TOO_LONG") {
		t.Fatalf("reasons = %v", got.Reasons)
	}
}

func TestAPIKeyGate(t *testing.T) {
	ts := newTestServer(t, config.Config{APIKey: "secret"})

	rec := ts.do(multipartRequest(t, "/api/certify", "file", "a.txt", "text/plain", []byte("x")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("certify without key = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "UNAUTHORIZED" {
		t.Fatalf("code = %s", got.Code)
	}

	req := multipartRequest(t, "/api/partner/certify", "file", "a.txt", "text/plain", []byte("x"))
	req.Header.Set(apiKeyHeader, "wrong")
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("certify with wrong key = %d", rec.Code)
	}

	req = multipartRequest(t, "/api/partner/certify", "file", "a.txt", "text/plain", []byte("x"))
	req.Header.Set(apiKeyHeader, "secret")
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("certify with key = %d body=%s", rec.Code, rec.Body.String())
	}
	id := decodeProof(t, rec).ID

	// verification stays public
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/verify/"+id, nil)); rec.Code != http.StatusOK {
		t.Fatalf("verify = %d", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/history", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("history without key = %d", rec.Code)
	}
}

func TestVerifyUnknownID(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/verify/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != "NOT_FOUND" || got.Message != "Proof not found" {
		t.Fatalf("error = %+v", got)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	var ids []string
	for _, body := range []string{"one", "two"} {
		rec := ts.do(multipartRequest(t, "/api/certify", "file", body+".txt", "text/plain", []byte(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("certify status = %d", rec.Code)
		}
		ids = append(ids, decodeProof(t, rec).ID)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var list []proofResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("history len = %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Timestamp < list[i].Timestamp {
			t.Fatalf("history not ordered newest first: %+v", list)
		}
	}
	seen := map[string]bool{list[0].ID: true, list[1].ID: true}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("history missing %s", id)
		}
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRateLimitReturns429(t *testing.T) {
	ts := newTestServer(t, config.Config{RateLimitRequests: 2, RateLimitWindowSeconds: 60})
	for i := 0; i < 2; i++ {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/verify/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/verify/missing", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "RATE_LIMITED" {
		t.Fatalf("code = %s", got.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// health sits outside the limited group
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["anchoring"] != "local" {
		t.Fatalf("health = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "evidencia_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}
}

func TestMediaRejectsDotFiles(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	if err := os.WriteFile(filepath.Join(ts.mediaDir, ".partial.tmp"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, target := range []string{"/uploads/.partial.tmp", "/uploads/missing.png"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", target, rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodOptions, "/api/certify", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rec := ts.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow origin header")
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "NOT_FOUND" {
		t.Fatalf("code = %s", got.Code)
	}
}
