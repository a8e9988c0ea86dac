package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/relay/internal/domain"
	"github.com/pashagolub/pgxmock/v4"
)

func TestStore_UpsertSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	st := New(nil)
	data := json.RawMessage(`{"response_id":"resp_1","messages":{}}`)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("resp_1", data, int64(1700000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := st.UpsertSession(ctx, "resp_1", data, 1700000000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetSession_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	st := New(nil)

	mock.ExpectQuery("SELECT session_data FROM sessions").
		WithArgs("resp_missing").
		WillReturnError(pgx.ErrNoRows)

	ctx := setupMockContext(mock)
	_, err = st.GetSession(ctx, "resp_missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_FindSessionByResponseID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	st := New(nil)
	data := json.RawMessage(`{"response_id":"resp_1","messages":{"1":{"response_id":"resp_2"}}}`)

	mock.ExpectQuery("SELECT id, session_data").
		WithArgs("resp_2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_data"}).AddRow("resp_1", data))

	ctx := setupMockContext(mock)
	id, got, err := st.FindSessionByResponseID(ctx, "resp_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "resp_1" {
		t.Errorf("expected session resp_1, got %s", id)
	}
	if string(got) != string(data) {
		t.Errorf("session data mismatch: got %s", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
