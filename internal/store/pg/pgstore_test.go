package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tezrelay.dev/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestCreateTeamInsertsTeamAndFoundingAdmin(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into teams").WithArgs(sqlmock.AnyArg(), "eng", "u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into team_members").WithArgs(sqlmock.AnyArg(), "u1", store.RoleAdmin, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	team, err := s.CreateTeam(context.Background(), "eng", "u1")
	if err != nil {
		t.Fatalf("CreateTeam() = %v", err)
	}
	if team.Name != "eng" || team.CreatedBy != "u1" {
		t.Fatalf("team = %+v, want name=eng createdBy=u1", team)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTeamRollsBackOnMemberInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into teams").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into team_members").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := s.CreateTeam(context.Background(), "eng", "u1"); err == nil {
		t.Fatal("CreateTeam() = nil error, want propagated failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetTeamMapsNoRowsToErrNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select id, name, created_by, created_at, updated_at from teams").
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.GetTeam(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetTeam() = %v, want ErrNotFound", err)
	}
}

func TestGetTeamScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "created_by", "created_at", "updated_at"}).
		AddRow("t1", "eng", "u1", now, now)
	mock.ExpectQuery("select id, name, created_by, created_at, updated_at from teams").WithArgs("t1").WillReturnRows(rows)

	team, err := s.GetTeam(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTeam() = %v", err)
	}
	if team.ID != "t1" || team.Name != "eng" {
		t.Fatalf("team = %+v", team)
	}
}

func TestUpsertContactThenReadsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into contacts").
		WithArgs("u1", "Alice", sqlmock.AnyArg(), sqlmock.AnyArg(), "u1@relay.example", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "display_name", "email", "avatar_url", "tez_address", "status", "created_at", "updated_at"}).
		AddRow("u1", "Alice", nil, nil, "u1@relay.example", "active", now, now)
	mock.ExpectQuery("select id, display_name, email, avatar_url, tez_address, status, created_at, updated_at from contacts").
		WithArgs("u1").WillReturnRows(rows)

	c, err := s.UpsertContact(context.Background(), store.Contact{
		ID: "u1", DisplayName: "Alice", TezAddress: "u1@relay.example", Status: "active",
	})
	if err != nil {
		t.Fatalf("UpsertContact() = %v", err)
	}
	if c.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %s, want Alice", c.DisplayName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimOutboundDeliveryReturnsErrNotFoundWhenQueueEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id, target_host, bundle, status, attempts, next_attempt_at").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := s.ClaimOutboundDelivery(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ClaimOutboundDelivery() = %v, want ErrNotFound", err)
	}
}

func TestClaimOutboundDeliveryMarksInFlight(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "target_host", "bundle", "status", "attempts", "next_attempt_at"}).
		AddRow("d1", "peer.example", `{"a":1}`, store.DeliveryQueued, 0, now)
	mock.ExpectQuery("select id, target_host, bundle, status, attempts, next_attempt_at").WillReturnRows(rows)
	mock.ExpectExec("update outbound_deliveries set status").WithArgs("d1", store.DeliveryInFlight).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d, err := s.ClaimOutboundDelivery(context.Background())
	if err != nil {
		t.Fatalf("ClaimOutboundDelivery() = %v", err)
	}
	if d.Status != store.DeliveryInFlight {
		t.Fatalf("Status = %s, want in_flight", d.Status)
	}
}

func TestCompleteOutboundDeliverySuccessMarksSent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update outbound_deliveries set status").WithArgs("d1", store.DeliverySent).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompleteOutboundDelivery(context.Background(), "d1", true, time.Time{}); err != nil {
		t.Fatalf("CompleteOutboundDelivery() = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteOutboundDeliveryFailureReschedules(t *testing.T) {
	s, mock := newMockStore(t)
	retryAt := time.Now().Add(time.Minute)
	mock.ExpectExec("update outbound_deliveries").WithArgs("d1", store.DeliveryFailed, retryAt).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompleteOutboundDelivery(context.Background(), "d1", false, retryAt); err != nil {
		t.Fatalf("CompleteOutboundDelivery() = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
