package auth

import (
	"context"
	"errors"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenClient struct {
	verify        func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	verifyRevoked func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

func (s *stubTokenClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return s.verify(ctx, idToken)
}

func (s *stubTokenClient) VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return s.verifyRevoked(ctx, idToken)
}

func TestFirebaseVerifierRevocationCheck(t *testing.T) {
	var plain, revoked int
	client := &stubTokenClient{
		verify: func(context.Context, string) (*firebaseauth.Token, error) {
			plain++
			return &firebaseauth.Token{UID: "user-1"}, nil
		},
		verifyRevoked: func(context.Context, string) (*firebaseauth.Token, error) {
			revoked++
			return &firebaseauth.Token{UID: "user-1"}, nil
		},
	}

	if _, err := newFirebaseVerifier(client).VerifyIDToken(context.Background(), "t"); err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if _, err := newFirebaseVerifier(client, WithRevocationCheck(true)).VerifyIDToken(context.Background(), "t"); err != nil {
		t.Fatalf("VerifyIDToken with revocation: %v", err)
	}
	if plain != 1 || revoked != 1 {
		t.Fatalf("expected one call per path, got plain=%d revoked=%d", plain, revoked)
	}
}

func TestFirebaseVerifierPassesThroughErrors(t *testing.T) {
	boom := errors.New("bad signature")
	client := &stubTokenClient{
		verifyRevoked: func(context.Context, string) (*firebaseauth.Token, error) { return nil, boom },
	}

	_, err := newFirebaseVerifier(client, WithRevocationCheck(true)).VerifyIDToken(context.Background(), "t")
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("plain failures must not be reported as revoked")
	}
}

func TestFirebaseVerifierUninitialised(t *testing.T) {
	var v *FirebaseVerifier
	if _, err := v.VerifyIDToken(context.Background(), "t"); err == nil {
		t.Fatalf("expected error from nil verifier")
	}
}
