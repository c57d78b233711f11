package db_test

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"travel-booking/internal/db"
	"travel-booking/internal/testhelpers"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PaymentRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.PaymentRepository
	ctx         context.Context
}

func (s *PaymentRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(s.ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewPaymentRepository(pool)
}

func (s *PaymentRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *PaymentRepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE payment_event, payment")
	if err != nil {
		log.Fatalf("error truncating tables: %s", err)
	}
}

func newPayment(orderID, paymentID string) *db.PaymentEntity {
	now := time.Now()
	email := "traveller@example.com"
	return &db.PaymentEntity{
		ID:               uuid.New(),
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        "sig",
		Amount:           10000,
		Currency:         "INR",
		Status:           db.PaymentStatusPaid,
		PayerEmail:       &email,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func newEvent(paymentID uuid.UUID, scheduledAt time.Time) *db.PaymentEventEntity {
	return &db.PaymentEventEntity{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		Type:        "payment.verified",
		Payload:     `{"status": "paid"}`,
		CreatedAt:   time.Now(),
		ScheduledAt: &scheduledAt,
	}
}

func (s *PaymentRepositoryTestSuite) TestBeginTx() {
	t := s.T()

	tx, err := s.sut.BeginTx(s.ctx)
	assert.NoError(t, err)
	assert.NotNil(t, tx)

	err = tx.Rollback(s.ctx)
	assert.NoError(t, err)
}

func (s *PaymentRepositoryTestSuite) TestSaveWithEvent() {
	t := s.T()

	payment := newPayment("order_1", "pay_1")
	event := newEvent(payment.ID, time.Now())

	require.NoError(t, s.sut.SaveWithEvent(s.ctx, payment, event))

	stored, err := s.sut.GetByGatewayOrderID(s.ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, stored.ID)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
	assert.Equal(t, db.PaymentStatusPaid, stored.Status)
	assert.Equal(t, int64(10000), stored.Amount)
	assert.Equal(t, "traveller@example.com", *stored.PayerEmail)

	storedEvent, err := s.sut.GetEventByID(s.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, storedEvent.PaymentID)
	assert.JSONEq(t, `{"status": "paid"}`, storedEvent.Payload)
}

func (s *PaymentRepositoryTestSuite) TestSaveWithEvent_DuplicateOrderID() {
	t := s.T()

	require.NoError(t, s.sut.SaveWithEvent(s.ctx, newPayment("order_1", "pay_1"), nil))

	duplicate := newPayment("order_1", "pay_2")
	err := s.sut.SaveWithEvent(s.ctx, duplicate, newEvent(duplicate.ID, time.Now()))
	assert.ErrorIs(t, err, db.ErrDuplicatePayment)

	var events int
	require.NoError(t, s.pool.QueryRow(s.ctx, "SELECT count(*) FROM payment_event").Scan(&events))
	assert.Zero(t, events)
}

func (s *PaymentRepositoryTestSuite) TestSaveWithEvent_DuplicatePaymentID() {
	t := s.T()

	require.NoError(t, s.sut.SaveWithEvent(s.ctx, newPayment("order_1", "pay_1"), nil))

	err := s.sut.SaveWithEvent(s.ctx, newPayment("order_2", "pay_1"), nil)
	assert.ErrorIs(t, err, db.ErrDuplicatePayment)
}

func (s *PaymentRepositoryTestSuite) TestSaveWithEvent_ConcurrentDuplicates() {
	t := s.T()

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		saved      int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payment := newPayment("order_race", "pay_race")
			err := s.sut.SaveWithEvent(s.ctx, payment, newEvent(payment.ID, time.Now()))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				saved++
			} else if assert.ErrorIs(t, err, db.ErrDuplicatePayment) {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, saved)
	assert.Equal(t, workers-1, duplicates)

	var count int
	require.NoError(t, s.pool.QueryRow(s.ctx, "SELECT count(*) FROM payment WHERE gateway_order_id = 'order_race'").Scan(&count))
	assert.Equal(t, 1, count)
}

func (s *PaymentRepositoryTestSuite) TestGetByGatewayOrderID_NotFound() {
	t := s.T()

	_, err := s.sut.GetByGatewayOrderID(s.ctx, "order_missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func (s *PaymentRepositoryTestSuite) TestListRecentAndByPayerEmail() {
	t := s.T()

	first := newPayment("order_1", "pay_1")
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := newPayment("order_2", "pay_2")
	other := "someone@example.com"
	second.PayerEmail = &other

	require.NoError(t, s.sut.SaveWithEvent(s.ctx, first, nil))
	require.NoError(t, s.sut.SaveWithEvent(s.ctx, second, nil))

	recent, err := s.sut.ListRecent(s.ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "order_2", recent[0].GatewayOrderID)

	limited, err := s.sut.ListRecent(s.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	mine, err := s.sut.ListByPayerEmail(s.ctx, "traveller@example.com", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "order_1", mine[0].GatewayOrderID)
}

func (s *PaymentRepositoryTestSuite) TestGetDueEvents() {
	t := s.T()

	payment := newPayment("order_1", "pay_1")
	due := newEvent(payment.ID, time.Now().Add(-time.Hour))
	require.NoError(t, s.sut.SaveWithEvent(s.ctx, payment, due))

	later := newPayment("order_2", "pay_2")
	require.NoError(t, s.sut.SaveWithEvent(s.ctx, later, newEvent(later.ID, time.Now().Add(time.Hour))))

	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)
	defer tx.Rollback(s.ctx)

	events, err := s.sut.GetDueEvents(s.ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, due.ID, events[0].ID)
}

func (s *PaymentRepositoryTestSuite) TestUpdateEvent() {
	t := s.T()

	payment := newPayment("order_1", "pay_1")
	event := newEvent(payment.ID, time.Now().Add(-time.Minute))
	require.NoError(t, s.sut.SaveWithEvent(s.ctx, payment, event))

	tx, err := s.sut.BeginTx(s.ctx)
	require.NoError(t, err)

	now := time.Now()
	event.ScheduledAt = nil
	event.PublishedAt = &now
	event.PublishAttempts = 1
	require.NoError(t, s.sut.UpdateEvent(s.ctx, tx, event))
	require.NoError(t, tx.Commit(s.ctx))

	updated, err := s.sut.GetEventByID(s.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PublishAttempts)
	assert.Nil(t, updated.ScheduledAt)
	require.NotNil(t, updated.PublishedAt)
	assert.WithinDuration(t, now, *updated.PublishedAt, time.Second)
}

func TestPaymentRepositoryTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(PaymentRepositoryTestSuite))
}
