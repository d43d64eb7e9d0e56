package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("ops", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Operator != "ops" {
		t.Errorf("operator = %q, want ops", claims.Operator)
	}
	if claims.Issuer != "legendswatch" {
		t.Errorf("issuer = %q, want legendswatch", claims.Issuer)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("ops", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatal("expected signature validation error")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := GenerateToken("ops", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := Parse(token, "secret"); err == nil {
		t.Fatal("expected expiry validation error")
	}
}
