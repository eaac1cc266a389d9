package auth

import (
	"errors"
	"net/http"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	if !HasAtLeast([]string{"viewer"}, RoleViewer) {
		t.Fatalf("viewer should satisfy viewer")
	}
	if HasAtLeast([]string{"viewer"}, RoleEditor) {
		t.Fatalf("viewer should not satisfy editor")
	}
	if !HasAtLeast([]string{"editor"}, RoleViewer) {
		t.Fatalf("editor should satisfy viewer")
	}
	if !HasAtLeast([]string{"admin"}, RoleEditor) {
		t.Fatalf("admin should satisfy editor")
	}
	if HasAtLeast(nil, RoleViewer) {
		t.Fatalf("no roles should satisfy nothing")
	}
	if HasAtLeast([]string{"admin"}, "owner") {
		t.Fatalf("unknown required role should never match")
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/api/conductor/runs", nil)
	if got := RequiredRoleForRequest(req); got != RoleViewer {
		t.Fatalf("RequiredRoleForRequest(GET)=%q, want viewer", got)
	}
	req.Method = http.MethodPost
	if got := RequiredRoleForRequest(req); got != RoleEditor {
		t.Fatalf("RequiredRoleForRequest(POST)=%q, want editor", got)
	}
	req.Method = http.MethodDelete
	if got := RequiredRoleForRequest(req); got != RoleEditor {
		t.Fatalf("RequiredRoleForRequest(DELETE)=%q, want editor", got)
	}
}

func TestMethodRoleAuthorizer(t *testing.T) {
	authorize := MethodRoleAuthorizer()

	req, _ := http.NewRequest(http.MethodPost, "http://example.test/api/conductor/runs", nil)
	if err := authorize(req, Identity{Subject: "ci", Roles: []string{"editor"}}); err != nil {
		t.Fatalf("editor POST err=%v", err)
	}
	err := authorize(req, Identity{Subject: "readonly", Roles: []string{"viewer"}})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer POST err=%v, want ErrForbidden", err)
	}
}
