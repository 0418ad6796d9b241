package acl

import "testing"

func TestMayAccess(t *testing.T) {
	cases := []struct {
		name string
		ctx  Context
		want bool
	}{
		{
			name: "sender self access",
			ctx:  Context{RequestingUserID: "u1", SenderUserID: "u1"},
			want: true,
		},
		{
			name: "team member",
			ctx:  Context{RequestingUserID: "u2", SenderUserID: "u1", TeamMember: true},
			want: true,
		},
		{
			name: "conversation member",
			ctx:  Context{RequestingUserID: "u2", SenderUserID: "u1", ConversationMember: true},
			want: true,
		},
		{
			name: "no relation denied",
			ctx:  Context{RequestingUserID: "u2", SenderUserID: "u1"},
			want: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := MayAccess(c.ctx); got != c.want {
				t.Fatalf("MayAccess() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestIsAdminAction(t *testing.T) {
	cases := []struct {
		name string
		ctx  AdminContext
		want bool
	}{
		{
			name: "admin role",
			ctx:  AdminContext{UserRole: "admin", UserID: "u1"},
			want: true,
		},
		{
			name: "listed as team admin",
			ctx:  AdminContext{UserRole: "member", UserID: "u1", AdminUserIDs: []string{"u1", "u2"}},
			want: true,
		},
		{
			name: "neither",
			ctx:  AdminContext{UserRole: "member", UserID: "u3", AdminUserIDs: []string{"u1", "u2"}},
			want: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsAdminAction(c.ctx); got != c.want {
				t.Fatalf("IsAdminAction() = %v, want %v", got, c.want)
			}
		})
	}
}
