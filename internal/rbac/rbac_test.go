package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer track", role: RoleViewer, action: ActionTrack, allow: false},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "commenter comment", role: RoleCommenter, action: ActionComment, allow: true},
		{name: "commenter track", role: RoleCommenter, action: ActionTrack, allow: false},
		{name: "editor track", role: RoleEditor, action: ActionTrack, allow: true},
		{name: "editor reset", role: RoleEditor, action: ActionReset, allow: false},
		{name: "admin reset", role: RoleAdmin, action: ActionReset, allow: true},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("owner"); got != RoleViewer {
		t.Fatalf("Normalize(owner) = %q, want viewer", got)
	}
	if _, ok := Parse(""); ok {
		t.Fatal("Parse(\"\") ok = true")
	}
}
