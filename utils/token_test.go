package utils_test

import (
	"testing"

	"github.com/mmdatafocus/shopledger_backend/utils"
)

func TestJwtRoundTrip(t *testing.T) {
	token, err := utils.JwtGenerate("biz-123", 7, "Owner")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	parsed, err := utils.JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("expected valid token")
	}

	claim, ok := parsed.Claims.(*utils.JwtCustomClaim)
	if !ok {
		t.Fatal("wrong claim type")
	}
	if claim.BusinessId != "biz-123" || claim.UserId != 7 || claim.UserName != "Owner" {
		t.Fatalf("claims mangled: %+v", claim)
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if _, err := utils.JwtValidate("not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
