package reconciler_test

import (
	"context"
	"testing"
	"time"

	"seat_reservation/pkg/models"
	"seat_reservation/pkg/reconciler"
	"seat_reservation/pkg/repository"
	"seat_reservation/pkg/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func createSeat(t *testing.T, db *gorm.DB, available bool) *models.Seat {
	t.Helper()
	seat := &models.Seat{
		SeatUid:     uuid.New().String(),
		MerchantUid: uuid.New().String(),
		Zone:        "hall",
		Number:      "1",
		IsAvailable: available,
	}
	require.NoError(t, db.Create(seat).Error)
	return seat
}

func createReservation(t *testing.T, db *gorm.DB, seat *models.Seat, start, end time.Time) *models.Reservation {
	t.Helper()
	res := &models.Reservation{
		ReservationUid: uuid.New().String(),
		StartTime:      start,
		EndTime:        end,
		Status:         models.StatusPending,
		Guests:         2,
		Tables:         1,
		CustomerName:   "testuser",
	}
	if seat != nil {
		res.SeatID = &seat.ID
	}
	require.NoError(t, db.Create(res).Error)
	return res
}

func reload(t *testing.T, db *gorm.DB, res *models.Reservation, seat *models.Seat) (models.ReservationStatus, bool) {
	t.Helper()
	var r models.Reservation
	require.NoError(t, db.First(&r, res.ID).Error)
	if seat == nil {
		return r.Status, false
	}
	var s models.Seat
	require.NoError(t, db.First(&s, seat.ID).Error)
	return r.Status, s.IsAvailable
}

func newReconciler(db *gorm.DB) *reconciler.Reconciler {
	return reconciler.New(repository.New(db), reconciler.DefaultGracePeriod, zap.NewNop())
}

func TestReconcileExpiredCompletesElapsedReservation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := newReconciler(db)
	ctx := context.Background()

	seat := createSeat(t, db, false)
	r1 := createReservation(t, db, seat, at(10, 0), at(11, 0))

	n, err := rec.ReconcileExpired(ctx, at(11, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, available := reload(t, db, r1, seat)
	assert.Equal(t, models.StatusCompleted, status)
	assert.True(t, available)

	n, err = rec.ReconcileExpired(ctx, at(11, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	status, available = reload(t, db, r1, seat)
	assert.Equal(t, models.StatusCompleted, status)
	assert.True(t, available)
}

func TestReconcileExpiredMarksAbandonedAsNoShow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := newReconciler(db)

	seat := createSeat(t, db, false)
	r2 := createReservation(t, db, seat, at(9, 0), at(10, 0))

	n, err := rec.ReconcileExpired(context.Background(), at(9, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, available := reload(t, db, r2, seat)
	assert.Equal(t, models.StatusNoShow, status)
	assert.True(t, available)
}

func TestReconcileExpiredGraceBoundary(t *testing.T) {
	now := at(12, 0)

	tests := []struct {
		name     string
		start    time.Time
		expected models.ReservationStatus
	}{
		{name: "exactly at grace boundary", start: now.Add(-30 * time.Minute), expected: models.StatusNoShow},
		{name: "one second inside grace", start: now.Add(-30*time.Minute + time.Second), expected: models.StatusPending},
		{name: "well past grace", start: now.Add(-45 * time.Minute), expected: models.StatusNoShow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			seat := createSeat(t, db, false)
			res := createReservation(t, db, seat, tt.start, now.Add(time.Hour))

			_, err := newReconciler(db).ReconcileExpired(context.Background(), now)
			require.NoError(t, err)

			status, _ := reload(t, db, res, seat)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestReconcileExpiredIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := newReconciler(db)
	ctx := context.Background()
	now := at(15, 0)

	for i := 0; i < 3; i++ {
		seat := createSeat(t, db, false)
		createReservation(t, db, seat, at(13, 0), at(14, 0))
	}
	future := createSeat(t, db, true)
	createReservation(t, db, future, at(18, 0), at(19, 0))

	first, err := rec.ReconcileExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := rec.ReconcileExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestReconcileExpiredWithoutSeat(t *testing.T) {
	db := testutil.SetupTestDB(t)

	res := createReservation(t, db, nil, at(10, 0), at(11, 0))

	n, err := newReconciler(db).ReconcileExpired(context.Background(), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, _ := reload(t, db, res, nil)
	assert.Equal(t, models.StatusCompleted, status)
}

func TestReconcileActiveClaimsSeat(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := newReconciler(db)
	ctx := context.Background()
	now := at(18, 0)

	seat := createSeat(t, db, true)
	r3 := createReservation(t, db, seat, now.Add(-5*time.Minute), now.Add(55*time.Minute))

	n, err := rec.ReconcileActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, available := reload(t, db, r3, seat)
	assert.Equal(t, models.StatusPending, status)
	assert.False(t, available)

	n, err = rec.ReconcileActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconcileActiveIgnoresFutureAndFinished(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(18, 0)

	futureSeat := createSeat(t, db, true)
	createReservation(t, db, futureSeat, now.Add(time.Hour), now.Add(2*time.Hour))

	// окно закрыто: now == end
	edgeSeat := createSeat(t, db, true)
	createReservation(t, db, edgeSeat, now.Add(-20*time.Minute), now)

	checkedSeat := createSeat(t, db, true)
	checked := createReservation(t, db, checkedSeat, now.Add(-10*time.Minute), now.Add(time.Hour))
	require.NoError(t, db.Model(checked).Update("status", models.StatusCheckedIn).Error)

	n, err := newReconciler(db).ReconcileActive(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunExpiresBeforeActivating(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(11, 5)

	// a finished reservation still flags the seat; the next one on the same seat is in its window
	seat := createSeat(t, db, false)
	prev := createReservation(t, db, seat, at(10, 45), at(11, 0))
	next := createReservation(t, db, seat, at(11, 0), at(12, 0))

	res, err := newReconciler(db).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	// next already holds the seat, so closing prev never releases it and there is nothing to claim
	assert.Equal(t, 0, res.Claimed)

	status, _ := reload(t, db, prev, seat)
	assert.Equal(t, models.StatusCompleted, status)
	status, available := reload(t, db, next, seat)
	assert.Equal(t, models.StatusPending, status)
	assert.False(t, available)
}

func TestReconcileExpiredKeepsSeatOfCheckedInGuest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(11, 1)

	seat := createSeat(t, db, false)
	prev := createReservation(t, db, seat, at(10, 40), at(11, 0))
	guest := createReservation(t, db, seat, at(11, 0), at(12, 0))
	require.NoError(t, db.Model(guest).Update("status", models.StatusCheckedIn).Error)

	res, err := newReconciler(db).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	status, _ := reload(t, db, prev, seat)
	assert.Equal(t, models.StatusCompleted, status)
	status, available := reload(t, db, guest, seat)
	assert.Equal(t, models.StatusCheckedIn, status)
	assert.False(t, available)
}

func TestReconcileExpiredReleasesSeatWhenNextWindowIsLater(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(11, 1)

	seat := createSeat(t, db, false)
	prev := createReservation(t, db, seat, at(10, 0), at(11, 0))
	later := createReservation(t, db, seat, at(13, 0), at(14, 0))
	require.NoError(t, db.Model(later).Update("status", models.StatusCheckedIn).Error)

	_, err := newReconciler(db).ReconcileExpired(context.Background(), now)
	require.NoError(t, err)

	status, available := reload(t, db, prev, seat)
	assert.Equal(t, models.StatusCompleted, status)
	assert.True(t, available)
}

func TestRunAbandonedInWindowIsNotClaimed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(12, 0)

	seat := createSeat(t, db, true)
	res := createReservation(t, db, seat, at(11, 20), at(13, 0))

	out, err := newReconciler(db).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NoShow)
	assert.Equal(t, 0, out.Claimed)

	status, available := reload(t, db, res, seat)
	assert.Equal(t, models.StatusNoShow, status)
	assert.True(t, available)
}

func TestRunLeavesNoPendingReservationHoldingSeatOutsideWindow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := at(20, 0)

	type fixture struct {
		res  *models.Reservation
		seat *models.Seat
	}
	var all []fixture
	windows := [][2]time.Time{
		{at(17, 0), at(18, 0)},
		{at(19, 0), at(21, 0)},
		{at(19, 50), at(21, 0)},
		{at(20, 0), at(20, 30)},
	}
	for _, w := range windows {
		for _, available := range []bool{true, false} {
			seat := createSeat(t, db, available)
			all = append(all, fixture{res: createReservation(t, db, seat, w[0], w[1]), seat: seat})
		}
	}

	_, err := newReconciler(db).Run(context.Background(), now)
	require.NoError(t, err)

	for _, f := range all {
		status, available := reload(t, db, f.res, f.seat)
		if status == models.StatusPending && !available {
			var r models.Reservation
			require.NoError(t, db.First(&r, f.res.ID).Error)
			assert.True(t, r.Active(now), "pending reservation %d holds its seat outside its window", r.ID)
		}
	}
}

// racingStore applies a manual transition between candidate selection and the write.
type racingStore struct {
	*repository.Repository
	beforeClose func()
}

func (s *racingStore) CloseReservation(ctx context.Context, id uint, to models.ReservationStatus, seatID *uint, now time.Time) (bool, error) {
	if s.beforeClose != nil {
		s.beforeClose()
		s.beforeClose = nil
	}
	return s.Repository.CloseReservation(ctx, id, to, seatID, now)
}

func TestManualCheckInWinsOverReconciler(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	now := at(9, 40)

	seat := createSeat(t, db, false)
	res := createReservation(t, db, seat, at(9, 0), at(10, 0))

	repo := repository.NewWithClock(db, func() time.Time { return now })
	store := &racingStore{
		Repository: repo,
		beforeClose: func() {
			_, err := repo.UpdateStatus(ctx, res.ReservationUid, models.StatusCheckedIn, nil)
			require.NoError(t, err)
		},
	}

	n, err := reconciler.New(store, reconciler.DefaultGracePeriod, zap.NewNop()).ReconcileExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	status, available := reload(t, db, res, seat)
	assert.Equal(t, models.StatusCheckedIn, status)
	assert.False(t, available)
}
