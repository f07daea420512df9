package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"evidencia/internal/domain"
	"evidencia/internal/infra/anchor"
	"evidencia/internal/infra/cache"
	cryptoinfra "evidencia/internal/infra/crypto"
	"evidencia/internal/infra/media"
	"evidencia/internal/infra/qrcode"

	"github.com/rs/zerolog"
)

const testOrigin = "https://h.example"

type memProofRepo struct {
	mu      sync.Mutex
	records map[string]domain.ProofRecord
	putErr  error
	gets    int
}

func newMemProofRepo() *memProofRepo {
	return &memProofRepo{records: make(map[string]domain.ProofRecord)}
}

func (m *memProofRepo) Put(ctx context.Context, record domain.ProofRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if _, ok := m.records[record.ID]; ok {
		return domain.ErrDuplicateID
	}
	m.records[record.ID] = record
	return nil
}

func (m *memProofRepo) Get(ctx context.Context, id string) (*domain.ProofRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	record, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

func (m *memProofRepo) List(ctx context.Context) ([]domain.ProofRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProofRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

type stubAnchor struct {
	result domain.AnchorResult
	err    error
	calls  int
}

func (s *stubAnchor) Anchor(ctx context.Context, proofID, contentHash string, timestamp int64, uri string) (domain.AnchorResult, error) {
	s.calls++
	return s.result, s.err
}

type stubAdmission struct {
	decision domain.AdmissionDecision
}

func (s stubAdmission) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error) {
	return s.decision, nil
}

type fixture struct {
	repo      *memProofRepo
	store     *media.Store
	certifier *Certifier
	verifier  *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := media.NewStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	repo := newMemProofRepo()
	codes := qrcode.NewGenerator(128)
	return &fixture{
		repo:  repo,
		store: store,
		certifier: &Certifier{
			Proofs:              repo,
			Media:               store,
			Codes:               codes,
			Anchor:              anchor.NewService(nil, nil, time.Second, zerolog.Nop()),
			MaxUploadBytes:      10 << 20,
			AnchorFailurePolicy: domain.AnchorPolicyFatal,
			SniffMimetype:       media.ResolveMimetype,
			Logger:              zerolog.Nop(),
			Now:                 func() time.Time { return time.Unix(1700000000, 0) },
		},
		verifier: &Verifier{
			Proofs:      repo,
			Locator:     media.NewLocator(store),
			Codes:       codes,
			ExplorerURL: "https://mumbai.polygonscan.com/tx/",
			Logger:      zerolog.Nop(),
		},
	}
}

func (f *fixture) mediaFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.store.Dir())
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func jpegRequest() CertifyRequest {
	return CertifyRequest{
		Content:  []byte("hello world!"),
		Filename: "a.jpg",
		Mimetype: "image/jpeg",
		Origin:   testOrigin,
	}
}

func TestCertifyWithoutLedgerStoresLocally(t *testing.T) {
	f := newFixture(t)
	res, err := f.certifier.Certify(context.Background(), jpegRequest())
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	rec := res.Record
	if rec.ContentHash != cryptoinfra.Fingerprint([]byte("hello world!")) {
		t.Fatalf("unexpected hash %s", rec.ContentHash)
	}
	if rec.AnchorTxRef != domain.LocalOnlyTxRef {
		t.Fatalf("expected local-only sentinel, got %q", rec.AnchorTxRef)
	}
	if res.Note != anchor.NoteCredentialsMissing || rec.AnchorNote != res.Note {
		t.Fatalf("unexpected note %q", res.Note)
	}
	if rec.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp %d", rec.Timestamp)
	}
	if rec.MediaReference != "/uploads/"+rec.ID+".jpg" {
		t.Fatalf("unexpected media reference %q", rec.MediaReference)
	}
	if rec.VerificationURI != testOrigin+"/public/verify.html?id="+rec.ID {
		t.Fatalf("unexpected uri %q", rec.VerificationURI)
	}
	if !strings.HasPrefix(rec.VerificationCode, "data:image/png;base64,") {
		t.Fatal("expected png verification code")
	}
	if !f.store.Exists(rec.ID + ".jpg") {
		t.Fatal("expected media file written")
	}
	stored, err := f.repo.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if *stored != rec {
		t.Fatalf("stored record differs: %+v", stored)
	}

	resolved, err := f.verifier.Verify(context.Background(), rec.ID, testOrigin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !resolved.HasMedia || resolved.MediaURL != testOrigin+"/uploads/"+rec.ID+".jpg" {
		t.Fatalf("unexpected media %q %v", resolved.MediaURL, resolved.HasMedia)
	}
	if resolved.ExplorerURL != "" {
		t.Fatal("local-only record must not link an explorer")
	}
	if resolved.VerificationCode != rec.VerificationCode {
		t.Fatal("expected stored verification code")
	}
}

func TestCertifySniffsMissingMimetype(t *testing.T) {
	f := newFixture(t)
	req := jpegRequest()
	req.Mimetype = ""
	req.Filename = "shot"
	req.Content = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	res, err := f.certifier.Certify(context.Background(), req)
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if res.Record.Mimetype != "image/png" || !strings.HasSuffix(res.Record.MediaReference, ".png") {
		t.Fatalf("unexpected sniff result %+v", res.Record)
	}
}

func TestCertifyRejectsEmptyAndOversized(t *testing.T) {
	f := newFixture(t)
	req := jpegRequest()
	req.Content = nil
	if _, err := f.certifier.Certify(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	f.certifier.MaxUploadBytes = 4
	_, err := f.certifier.Certify(context.Background(), jpegRequest())
	if !errors.Is(err, domain.ErrPayloadTooLarge) || !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected payload too large, got %v", err)
	}
	if files := f.mediaFiles(t); len(files) != 0 {
		t.Fatalf("expected no media written, got %v", files)
	}
}

func TestCertifyAdmissionDenied(t *testing.T) {
	f := newFixture(t)
	f.certifier.Admission = stubAdmission{decision: domain.AdmissionDecision{Reasons: []string{"EMPTY_FILE: file is empty"}}}
	_, err := f.certifier.Certify(context.Background(), jpegRequest())
	var admissionErr *domain.AdmissionError
	if !errors.As(err, &admissionErr) || !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected admission error, got %v", err)
	}
	if files := f.mediaFiles(t); len(files) != 0 {
		t.Fatalf("expected no media written, got %v", files)
	}
}

func TestCertifyAnchorFailureFatal(t *testing.T) {
	f := newFixture(t)
	stub := &stubAnchor{
		result: domain.AnchorResult{Status: domain.AnchorStatusFailed, ErrorCode: domain.AnchorErrorNetwork},
		err:    &domain.AnchorError{Code: domain.AnchorErrorNetwork, Err: errors.New("connection refused")},
	}
	f.certifier.Anchor = stub
	_, err := f.certifier.Certify(context.Background(), jpegRequest())
	if !errors.Is(err, domain.ErrAnchorFailure) {
		t.Fatalf("expected anchor failure, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one anchor attempt, got %d", stub.calls)
	}
	if files := f.mediaFiles(t); len(files) != 0 {
		t.Fatalf("expected media removed, got %v", files)
	}
	if list, _ := f.repo.List(context.Background()); len(list) != 0 {
		t.Fatalf("expected no record, got %d", len(list))
	}
}

func TestCertifyAnchorFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.certifier.AnchorFailurePolicy = domain.AnchorPolicyDegrade
	f.certifier.Anchor = &stubAnchor{
		result: domain.AnchorResult{Status: domain.AnchorStatusFailed, ErrorCode: domain.AnchorErrorTimeout},
		err:    &domain.AnchorError{Code: domain.AnchorErrorTimeout},
	}
	res, err := f.certifier.Certify(context.Background(), jpegRequest())
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if res.Record.AnchorTxRef != domain.LocalOnlyTxRef {
		t.Fatalf("expected sentinel, got %q", res.Record.AnchorTxRef)
	}
	if res.Note != "Blockchain anchoring failed (TIMEOUT). Stored locally only." {
		t.Fatalf("unexpected note %q", res.Note)
	}
	if !f.store.Exists(res.Record.ID + ".jpg") {
		t.Fatal("expected media kept")
	}
}

func TestCertifyAnchored(t *testing.T) {
	f := newFixture(t)
	f.certifier.Anchor = &stubAnchor{result: domain.AnchorResult{Status: domain.AnchorStatusAnchored, TxRef: "0xfeed"}}
	res, err := f.certifier.Certify(context.Background(), jpegRequest())
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if res.Record.AnchorTxRef != "0xfeed" || res.Note != "" {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	resolved, err := f.verifier.Verify(context.Background(), res.Record.ID, testOrigin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resolved.ExplorerURL != "https://mumbai.polygonscan.com/tx/0xfeed" {
		t.Fatalf("unexpected explorer url %q", resolved.ExplorerURL)
	}
}

func TestCertifyStoreFailureRemovesMedia(t *testing.T) {
	f := newFixture(t)
	f.repo.putErr = errors.New("disk I/O error")
	_, err := f.certifier.Certify(context.Background(), jpegRequest())
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if files := f.mediaFiles(t); len(files) != 0 {
		t.Fatalf("expected media removed, got %v", files)
	}
}

func TestCertifyUsesPublicBaseURL(t *testing.T) {
	f := newFixture(t)
	f.certifier.PublicBaseURL = "https://proofs.example/"
	res, err := f.certifier.Certify(context.Background(), jpegRequest())
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if !strings.HasPrefix(res.Record.VerificationURI, "https://proofs.example/public/verify.html?id=") {
		t.Fatalf("unexpected uri %q", res.Record.VerificationURI)
	}
}

func TestCertifyConcurrentIdenticalContent(t *testing.T) {
	f := newFixture(t)
	const n = 10
	var wg sync.WaitGroup
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.certifier.Certify(context.Background(), jpegRequest())
			if err != nil {
				errs <- err
				return
			}
			ids <- res.Record.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)
	for err := range errs {
		t.Fatalf("certify: %v", err)
	}
	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d records, got %d", n, len(seen))
	}
	if files := f.mediaFiles(t); len(files) != n {
		t.Fatalf("expected %d media files, got %d", n, len(files))
	}
}

func TestVerifyMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.verifier.Verify(context.Background(), "does-not-exist", testOrigin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.verifier.Verify(context.Background(), "", testOrigin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for empty id, got %v", err)
	}
}

func TestVerifyLegacyRecord(t *testing.T) {
	f := newFixture(t)
	legacy := domain.ProofRecord{
		ID:          "legacy-1",
		ContentHash: cryptoinfra.Fingerprint([]byte("clip")),
		Timestamp:   42,
		Filename:    "clip.mp4",
		Mimetype:    "video/mp4",
		AnchorTxRef: domain.LocalOnlyTxRef,
	}
	if err := f.repo.Put(context.Background(), legacy); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.store.Save(context.Background(), "legacy-1.mp4", []byte("clip")); err != nil {
		t.Fatalf("seed media: %v", err)
	}
	resolved, err := f.verifier.Verify(context.Background(), "legacy-1", testOrigin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resolved.MediaURL != testOrigin+"/uploads/legacy-1.mp4" || !resolved.HasMedia {
		t.Fatalf("unexpected media %q", resolved.MediaURL)
	}
	if !strings.HasPrefix(resolved.VerificationCode, "data:image/png;base64,") {
		t.Fatal("expected regenerated verification code")
	}
	if resolved.Record.VerificationURI != testOrigin+"/public/verify.html?id=legacy-1" {
		t.Fatalf("unexpected derived uri %q", resolved.Record.VerificationURI)
	}
}

func TestVerifyWithoutMedia(t *testing.T) {
	f := newFixture(t)
	rec := domain.ProofRecord{ID: "bare", ContentHash: "0x00", Timestamp: 1, AnchorTxRef: domain.LocalOnlyTxRef}
	if err := f.repo.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resolved, err := f.verifier.Verify(context.Background(), "bare", testOrigin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resolved.HasMedia || resolved.MediaURL != "" {
		t.Fatalf("expected no media, got %q", resolved.MediaURL)
	}
}

func TestVerifyMediaDeletedAfterCertify(t *testing.T) {
	f := newFixture(t)
	rec := domain.ProofRecord{
		ID:             "gone",
		ContentHash:    cryptoinfra.Fingerprint([]byte("x")),
		Timestamp:      1,
		MediaReference: "/uploads/gone.jpg",
		AnchorTxRef:    domain.LocalOnlyTxRef,
	}
	if err := f.repo.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resolved, err := f.verifier.Verify(context.Background(), "gone", testOrigin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resolved.HasMedia || resolved.MediaURL != "" {
		t.Fatalf("expected no media for a missing file, got %q", resolved.MediaURL)
	}
}

func TestVerifyUsesCache(t *testing.T) {
	f := newFixture(t)
	f.verifier.Cache = cache.NewMemory(8, time.Minute)
	res, err := f.certifier.Certify(context.Background(), jpegRequest())
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.verifier.Verify(context.Background(), res.Record.ID, testOrigin); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	if f.repo.gets != 1 {
		t.Fatalf("expected one store lookup, got %d", f.repo.gets)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)
	for i, ts := range []int64{10, 30, 20} {
		rec := domain.ProofRecord{ID: string(rune('a' + i)), ContentHash: "0x00", Timestamp: ts}
		if err := f.repo.Put(context.Background(), rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	list, err := (&History{Proofs: f.repo}).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Timestamp != 30 || list[2].Timestamp != 10 {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestMatchesContent(t *testing.T) {
	rec := domain.ProofRecord{ContentHash: cryptoinfra.Fingerprint([]byte("hello world!"))}
	if !MatchesContent(rec, []byte("hello world!")) {
		t.Fatal("expected match")
	}
	if MatchesContent(rec, []byte("hello world?")) {
		t.Fatal("expected mismatch")
	}
}
