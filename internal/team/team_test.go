package team

import (
	"context"
	"errors"
	"testing"

	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/ids"
	"tezrelay.dev/internal/store"
)

type fakeStore struct {
	teams   map[string]store.Team
	members map[string]map[string]store.TeamMember
}

func newFakeStore() *fakeStore {
	return &fakeStore{teams: map[string]store.Team{}, members: map[string]map[string]store.TeamMember{}}
}

func (f *fakeStore) CreateTeam(ctx context.Context, name, createdBy string) (store.Team, error) {
	t := store.Team{ID: ids.New(), Name: name, CreatedBy: createdBy}
	f.teams[t.ID] = t
	f.members[t.ID] = map[string]store.TeamMember{
		createdBy: {TeamID: t.ID, UserID: createdBy, Role: store.RoleAdmin},
	}
	return t, nil
}

func (f *fakeStore) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	t, ok := f.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) GetTeamMember(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
	m, ok := f.members[teamID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (f *fakeStore) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	var out []store.TeamMember
	for _, m := range f.members[teamID] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) AddTeamMember(ctx context.Context, teamID, userID, role string) error {
	if f.members[teamID] == nil {
		f.members[teamID] = map[string]store.TeamMember{}
	}
	f.members[teamID][userID] = store.TeamMember{TeamID: teamID, UserID: userID, Role: role}
	return nil
}

func (f *fakeStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	delete(f.members[teamID], userID)
	return nil
}

func (f *fakeStore) CountUnreadByTeam(ctx context.Context, userID string) (map[string]int, error) {
	return map[string]int{}, nil
}

func newService() (*Service, *fakeStore) {
	fs := newFakeStore()
	return NewService(fs, audit.NewSink(nil)), fs
}

func TestCreateRejectsEmptyName(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Create(context.Background(), "u1", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Create() = %v, want ErrInvalidInput", err)
	}
}

func TestCreateAddsCreatorAsAdmin(t *testing.T) {
	svc, fs := newService()
	team, err := svc.Create(context.Background(), "u1", "squad")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	m, ok := fs.members[team.ID]["u1"]
	if !ok || m.Role != store.RoleAdmin {
		t.Fatalf("creator not recorded as admin: %+v", m)
	}
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	svc, fs := newService()
	team, _ := svc.Create(context.Background(), "admin-1", "squad")
	fs.members[team.ID]["member-1"] = store.TeamMember{TeamID: team.ID, UserID: "member-1", Role: store.RoleMember}

	if err := svc.AddMember(context.Background(), "member-1", team.ID, "new-user", store.RoleMember); !errors.Is(err, ErrForbidden) {
		t.Fatalf("AddMember() by non-admin = %v, want ErrForbidden", err)
	}
	if err := svc.AddMember(context.Background(), "admin-1", team.ID, "new-user", store.RoleMember); err != nil {
		t.Fatalf("AddMember() by admin = %v, want nil", err)
	}
	if _, ok := fs.members[team.ID]["new-user"]; !ok {
		t.Fatal("new-user not added")
	}
}

func TestAddMemberRejectsUnknownRole(t *testing.T) {
	svc, _ := newService()
	team, _ := svc.Create(context.Background(), "admin-1", "squad")
	if err := svc.AddMember(context.Background(), "admin-1", team.ID, "x", "superuser"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("AddMember() = %v, want ErrInvalidInput", err)
	}
}

func TestRemoveMemberAllowsSelfLeave(t *testing.T) {
	svc, fs := newService()
	team, _ := svc.Create(context.Background(), "admin-1", "squad")
	fs.members[team.ID]["member-1"] = store.TeamMember{TeamID: team.ID, UserID: "member-1", Role: store.RoleMember}

	if err := svc.RemoveMember(context.Background(), "member-1", team.ID, "member-1"); err != nil {
		t.Fatalf("RemoveMember() self-leave = %v, want nil", err)
	}
	if _, ok := fs.members[team.ID]["member-1"]; ok {
		t.Fatal("member-1 still present after self-leave")
	}
}

func TestRemoveMemberRejectsRemovingOthersWithoutAdmin(t *testing.T) {
	svc, fs := newService()
	team, _ := svc.Create(context.Background(), "admin-1", "squad")
	fs.members[team.ID]["member-1"] = store.TeamMember{TeamID: team.ID, UserID: "member-1", Role: store.RoleMember}
	fs.members[team.ID]["member-2"] = store.TeamMember{TeamID: team.ID, UserID: "member-2", Role: store.RoleMember}

	if err := svc.RemoveMember(context.Background(), "member-1", team.ID, "member-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("RemoveMember() = %v, want ErrForbidden", err)
	}
}

func TestListMembersRequiresMembership(t *testing.T) {
	svc, _ := newService()
	team, _ := svc.Create(context.Background(), "admin-1", "squad")

	if _, err := svc.ListMembers(context.Background(), "outsider", team.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("ListMembers() by outsider = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListMembers(context.Background(), "admin-1", team.ID); err != nil {
		t.Fatalf("ListMembers() by member = %v, want nil", err)
	}
}
