package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionModerate, true},
		{RoleAdmin, ActionPublish, true},
		{RoleMember, ActionRead, true},
		{RoleMember, ActionComment, true},
		{RoleMember, ActionPublish, true},
		{RoleMember, ActionModerate, false},
		{Role("nobody"), ActionRead, false},
	}

	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Errorf("Normalize(admin) = %q", got)
	}
	if got := Normalize(""); got != RoleMember {
		t.Errorf("Normalize empty = %q, want member", got)
	}
	if got := Normalize("superuser"); got != RoleMember {
		t.Errorf("Normalize unknown = %q, want member", got)
	}
}
