package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
)

const (
	firestoreCollection   = "idempotency_keys"
	firestoreTxAttempts   = 5
	firestoreCleanupLimit = 100
)

// FirestoreStore keeps one document per hashed key. Reserve and SaveResponse are transactional so
// two retries racing on the same key cannot both run the handler.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) ref(key string) *firestore.DocumentRef {
	return s.client.Collection(firestoreCollection).Doc(documentID(key))
}

func (s *FirestoreStore) inTx(ctx context.Context, fn pfirestore.TxFunc) error {
	return pfirestore.RunTransaction(ctx, s.client, fn, pfirestore.WithTxAttempts(firestoreTxAttempts))
}

// load reads the record inside tx. found is false for a missing document.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (record Record, found bool, err error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return Record{}, false, err
	}
	return doc.toRecord(), true, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ref := s.ref(key)

	var result Reservation
	err := s.inTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := load(tx, ref)
		if err != nil {
			return err
		}
		if found && !record.expired(now) {
			result, err = classify(record, fingerprint)
			return err
		}
		record = pendingRecord(key, fingerprint, now, normaliseTTL(ttl))
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, fromRecord(record))
	})
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.ref(key)

	return s.inTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := load(tx, ref)
		switch {
		case err != nil:
			return err
		case !found:
			record = pendingRecord(key, fingerprint, now, 0)
		case record.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		return tx.Set(ref, fromRecord(record.complete(resp, now, ttl)))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref := s.ref(key)
	return s.inTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := load(tx, ref)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes one batch of expired documents through a BulkWriter.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = firestoreCleanupLimit
	}
	docs, err := s.client.Collection(firestoreCollection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}

	bw := s.client.BulkWriter(ctx)
	defer bw.End()
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	return len(docs), nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
