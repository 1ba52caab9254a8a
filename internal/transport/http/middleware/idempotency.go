package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"appraisal/internal/requestctx"
	"appraisal/internal/transport/http/api"
)

const IdempotencyKeyHeader = "Idempotency-Key"

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

type IdempotencyRecord struct {
	RequestHash string
	StatusCode  int
	Response    json.RawMessage
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, endpoint, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, userID, endpoint, key string, rec IdempotencyRecord) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Idempotency replays the stored response when an authenticated mutation is
// retried with the same Idempotency-Key and body. Reusing a key with a
// different body is rejected. Server errors are not stored so they can be
// retried.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			user, authed := GetUser(r.Context())
			if store == nil || key == "" || !authed || !isMutation(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			reqID := GetRequestID(r.Context())
			logger := requestctx.Logger(r.Context())

			body, err := io.ReadAll(r.Body)
			if err != nil {
				api.Fail(w, http.StatusBadRequest, "invalid_payload", "could not read request body", reqID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := RequestHash(body)
			endpoint := r.Method + " " + r.URL.Path

			stored, found, err := store.Lookup(r.Context(), user.UserID, endpoint, key)
			if err != nil {
				logger.Warn("idempotency lookup failed", zap.Error(err))
				api.Fail(w, http.StatusInternalServerError, "idempotency_error", "idempotency check failed", reqID)
				return
			}
			if found {
				if stored.RequestHash != hash {
					api.Fail(w, http.StatusConflict, "idempotency_conflict", ErrIdempotencyConflict.Error(), reqID)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.StatusCode)
				_, _ = w.Write(stored.Response)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError || !json.Valid(capture.body.Bytes()) {
				return
			}
			err = store.Save(r.Context(), user.UserID, endpoint, key, IdempotencyRecord{
				RequestHash: hash,
				StatusCode:  capture.status,
				Response:    capture.body.Bytes(),
			})
			if err != nil {
				logger.Warn("idempotency save failed", zap.String("endpoint", endpoint), zap.Error(err))
			}
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

type PGIdempotencyStore struct {
	db *pgxpool.Pool
}

func NewIdempotencyStore(db *pgxpool.Pool) *PGIdempotencyStore {
	return &PGIdempotencyStore{db: db}
}

func (s *PGIdempotencyStore) Lookup(ctx context.Context, userID, endpoint, key string) (IdempotencyRecord, bool, error) {
	var rec IdempotencyRecord
	err := s.db.QueryRow(ctx, `
    SELECT request_hash, status_code, response_json
    FROM idempotency_keys
    WHERE user_id = $1 AND key = $2 AND endpoint = $3
  `, userID, key, endpoint).Scan(&rec.RequestHash, &rec.StatusCode, &rec.Response)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PGIdempotencyStore) Save(ctx context.Context, userID, endpoint, key string, rec IdempotencyRecord) error {
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash, status_code, response_json)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (user_id, key, endpoint)
    DO UPDATE SET response_json = EXCLUDED.response_json, status_code = EXCLUDED.status_code
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
  `, userID, key, endpoint, rec.RequestHash, rec.StatusCode, rec.Response)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: map[string]IdempotencyRecord{}}
}

func (s *MemoryIdempotencyStore) Lookup(_ context.Context, userID, endpoint, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID+"\x00"+endpoint+"\x00"+key]
	return rec, ok, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, userID, endpoint, key string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := userID + "\x00" + endpoint + "\x00" + key
	if existing, ok := s.records[id]; ok && existing.RequestHash != rec.RequestHash {
		return ErrIdempotencyConflict
	}
	rec.Response = append(json.RawMessage(nil), rec.Response...)
	s.records[id] = rec
	return nil
}
