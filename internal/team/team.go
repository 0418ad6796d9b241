// Package team implements team creation and membership management. See
// SPEC_FULL.md §4, "Team management" (teams carry the founding admin atomically; a team
// always has at least one admin).
package team

import (
	"context"
	"errors"
	"strings"

	"tezrelay.dev/internal/acl"
	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/store"
)

var (
	ErrForbidden    = errors.New("team: forbidden")
	ErrInvalidInput = errors.New("team: invalid input")
)

type Store interface {
	CreateTeam(ctx context.Context, name, createdBy string) (store.Team, error)
	GetTeam(ctx context.Context, id string) (*store.Team, error)
	GetTeamMember(ctx context.Context, teamID, userID string) (*store.TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error)
	AddTeamMember(ctx context.Context, teamID, userID, role string) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	CountUnreadByTeam(ctx context.Context, userID string) (map[string]int, error)
}

type Service struct {
	store Store
	audit *audit.Sink
}

func NewService(s Store, auditSink *audit.Sink) *Service {
	return &Service{store: s, audit: auditSink}
}

func (s *Service) Create(ctx context.Context, actor, name string) (store.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Team{}, ErrInvalidInput
	}
	t, err := s.store.CreateTeam(ctx, name, actor)
	if err != nil {
		return store.Team{}, err
	}
	s.audit.Record(ctx, &t.ID, store.ActionTeamCreated, "team", t.ID, map[string]any{"name": t.Name})
	return t, nil
}

func (s *Service) ListMembers(ctx context.Context, actor, teamID string) ([]store.TeamMember, error) {
	if _, err := s.requireMember(ctx, teamID, actor); err != nil {
		return nil, err
	}
	return s.store.ListTeamMembers(ctx, teamID)
}

// AddMember adds userID to the team with role, requiring actor to be a
// team admin.
func (s *Service) AddMember(ctx context.Context, actor, teamID, userID, role string) error {
	if role == "" {
		role = store.RoleMember
	}
	if role != store.RoleAdmin && role != store.RoleMember {
		return ErrInvalidInput
	}
	actorMember, err := s.requireMember(ctx, teamID, actor)
	if err != nil {
		return err
	}
	if !acl.IsAdminAction(acl.AdminContext{UserRole: actorMember.Role, UserID: actor}) {
		return ErrForbidden
	}
	if err := s.store.AddTeamMember(ctx, teamID, userID, role); err != nil {
		return err
	}
	s.audit.Record(ctx, &teamID, store.ActionTeamMemberAdded, "team", teamID, map[string]any{"userId": userID, "role": role})
	return nil
}

// RemoveMember removes userID from the team. Admins may remove anyone;
// non-admins may only remove themselves (self-leave). The store layer
// additionally rejects removing the last admin.
func (s *Service) RemoveMember(ctx context.Context, actor, teamID, userID string) error {
	actorMember, err := s.requireMember(ctx, teamID, actor)
	if err != nil {
		return err
	}
	isAdmin := acl.IsAdminAction(acl.AdminContext{UserRole: actorMember.Role, UserID: actor})
	if !isAdmin && actor != userID {
		return ErrForbidden
	}
	if err := s.store.RemoveTeamMember(ctx, teamID, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, &teamID, store.ActionTeamMemberRemoved, "team", teamID, map[string]any{"userId": userID})
	return nil
}

// CountUnread returns, per team actor belongs to, the count of unread
// team-scoped Tez addressed to them.
func (s *Service) CountUnread(ctx context.Context, actor string) (map[string]int, error) {
	return s.store.CountUnreadByTeam(ctx, actor)
}

func (s *Service) requireMember(ctx context.Context, teamID, actor string) (*store.TeamMember, error) {
	m, err := s.store.GetTeamMember(ctx, teamID, actor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return m, nil
}
