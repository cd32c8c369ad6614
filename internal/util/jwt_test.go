package util

import (
	"exam_portal_backend/internal/model"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	user := &model.User{Email: "s@test.local", Role: model.Student}
	user.ID = 7

	token, err := GenerateJWT(user, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseJWT(token, "test-secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 7 || claims.Role != model.Student || claims.Email != "s@test.local" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	user := &model.User{Email: "s@test.local", Role: model.Student}
	user.ID = 7

	token, err := GenerateJWT(user, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseJWT(token, "another-secret"); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestJWTRejectsExpired(t *testing.T) {
	user := &model.User{Email: "s@test.local", Role: model.Student}
	user.ID = 7

	token, err := GenerateJWT(user, "test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseJWT(token, "test-secret"); err == nil {
		t.Fatalf("expected error for expired token")
	}
}
