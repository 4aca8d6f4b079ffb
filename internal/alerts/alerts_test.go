package alerts_test

import (
	"context"
	"database/sql/driver"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/retailvision/trinetra/internal/alerts"
	"github.com/retailvision/trinetra/internal/events"
)

type fakePublisher struct {
	calls int
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error {
	f.calls++
	return f.err
}

func TestEmit_WritesAndPublishes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tmp := t.TempDir()
	pub := &fakePublisher{}
	store, err := alerts.New(db, pub, tmp)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(1, 1))

	custID := "cust_A"
	err = store.Emit(context.Background(), events.AlertEvent{
		Kind: events.AlertVIPDetected, Severity: events.SeverityLow,
		CameraID: "entrance", CustomerID: &custID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, pub.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmit_DBFailure_Spools(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tmp := t.TempDir()
	store, err := alerts.New(db, nil, tmp)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO alerts").WillReturnError(driver.ErrBadConn)

	err = store.Emit(context.Background(), events.AlertEvent{
		Kind: events.AlertUnknownAtBilling, Severity: events.SeverityMedium, CameraID: "billing",
	})
	require.NoError(t, err)

	entries, readErr := os.ReadDir(tmp)
	require.NoError(t, readErr)
	require.NotEmpty(t, entries)
}

func TestReplaySpool_FlushesAndEmpties(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tmp := t.TempDir()
	store, err := alerts.New(db, nil, tmp)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO alerts").WillReturnError(driver.ErrBadConn)
	_ = store.Emit(context.Background(), events.AlertEvent{Kind: events.AlertVIPDetected, Severity: events.SeverityLow, CameraID: "entrance"})

	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(1, 1))
	n, err := store.ReplaySpool(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
