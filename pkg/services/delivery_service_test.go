package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/mail"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

type fakeMatcher struct {
	subs []*models.Subscription
	err  error
}

func (m *fakeMatcher) Match(context.Context, int64) ([]*models.Subscription, error) {
	return m.subs, m.err
}

type deliveryFixture struct {
	deliveries *fakeDeliveryRepo
	matcher    *fakeMatcher
	sender     *fakeSender
	reporter   *fakeReporter
	service    DeliveryService
}

func newDeliveryFixture() *deliveryFixture {
	f := &deliveryFixture{
		deliveries: newFakeDeliveryRepo(),
		matcher:    &fakeMatcher{},
		sender:     &fakeSender{},
		reporter:   &fakeReporter{},
	}
	f.service = NewDeliveryService(f.deliveries, f.matcher, mail.NewRenderer("https://planwatch.is"),
		f.sender, f.reporter, passthroughTx, zap.NewNop())
	return f
}

var (
	marchMeeting = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	aprilMeeting = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
)

func pending(id, user, meeting, minute int64, on string) *models.PendingDelivery {
	start := marchMeeting
	if meeting%2 == 0 {
		start = aprilMeeting
	}
	return &models.PendingDelivery{
		DeliveryID:     id,
		UserID:         user,
		UserEmail:      map[int64]string{1: "anna@example.is", 2: "bjorn@example.is"}[user],
		SubscriptionID: id,
		Subscription:   models.SubscriptionCase,
		SubscriptionOn: on,
		MeetingID:      meeting,
		MeetingName:    "Fundur",
		MeetingStart:   start,
		CouncilName:    "Skipulagsráð",
		MinuteID:       minute,
		MinuteSerial:   "1",
		CaseSerial:     "USK24030045",
		Headline:       "Laugavegur 12A",
		Status:         ptr(models.StatusApproved),
	}
}

func TestDeliveryService_CreateDeliveries(t *testing.T) {
	f := newDeliveryFixture()
	f.matcher.subs = []*models.Subscription{{ID: 1}, {ID: 2}}
	ctx := context.Background()

	n, err := f.service.CreateDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Matching the same minute again creates nothing new.
	n, err = f.service.CreateDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.deliveries.deliveries, 2)
}

func TestDeliveryService_CreateDeliveries_MatchError(t *testing.T) {
	f := newDeliveryFixture()
	f.matcher.err = errors.New("connection refused")

	_, err := f.service.CreateDeliveries(context.Background(), 10)

	assert.Error(t, err)
}

func TestDeliveryService_SendImmediate_OneMessagePerUserAndMeeting(t *testing.T) {
	f := newDeliveryFixture()
	f.deliveries.pending = []*models.PendingDelivery{
		pending(1, 1, 1, 10, "Mál USK24030045"),
		pending(2, 1, 1, 10, "Laugavegur 12A"),
		pending(3, 1, 1, 11, "Mál USK24030045"),
		pending(4, 1, 2, 20, "Mál USK24030045"),
		pending(5, 2, 1, 10, "Reitir hf."),
	}

	report, err := f.service.SendImmediate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 5, report.Sent)
	assert.Empty(t, report.Failed)
	require.Len(t, f.sender.sent, 3)

	first := f.sender.sent[0]
	assert.Equal(t, "anna@example.is", first.To)
	assert.Equal(t, "immediate", first.Tag)
	// Both subscriptions matching minute 10 are listed under one entry.
	assert.Contains(t, first.TextBody, "Mál USK24030045, Laugavegur 12A")
	assert.Contains(t, first.TextBody, "/fundargerdir/11")
	assert.NotContains(t, first.TextBody, "/fundargerdir/20")

	assert.Equal(t, "bjorn@example.is", f.sender.sent[2].To)
	assert.Equal(t, []int64{1, 2, 3}, f.deliveries.marked["conf-1"])
	assert.Equal(t, []int64{4}, f.deliveries.marked["conf-2"])
	assert.Equal(t, []int64{5}, f.deliveries.marked["conf-3"])
}

func TestDeliveryService_SendWeekly_OneDigestPerUser(t *testing.T) {
	f := newDeliveryFixture()
	f.deliveries.pending = []*models.PendingDelivery{
		pending(1, 1, 1, 10, "Mál USK24030045"),
		pending(2, 1, 2, 20, "Mál USK24030045"),
		pending(3, 2, 1, 10, "Reitir hf."),
	}

	report, err := f.service.SendWeekly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 3, report.Sent)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "weekly", f.sender.sent[0].Tag)
	assert.Contains(t, f.sender.sent[0].Subject, "2 mál")
	assert.Contains(t, f.sender.sent[0].TextBody, "5.3.2024")
	assert.Contains(t, f.sender.sent[0].TextBody, "2.4.2024")
}

func TestDeliveryService_Send_FailureIsolatedPerUser(t *testing.T) {
	f := newDeliveryFixture()
	f.sender.fail = map[string]error{"anna@example.is": errors.New("mailbox unavailable")}
	f.deliveries.pending = []*models.PendingDelivery{
		pending(1, 1, 1, 10, "Mál USK24030045"),
		pending(2, 2, 1, 10, "Reitir hf."),
	}

	report, err := f.service.SendImmediate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, int64(1), report.Failed[0].UserID)
	assert.Equal(t, int64(1), report.Failed[0].MeetingID)
	require.Len(t, f.reporter.errs, 1)
	assert.Contains(t, f.reporter.errs[0].Error(), "mailbox unavailable")

	// The failed batch is still pending and goes out once the mailbox recovers.
	f.sender.fail = nil
	report, err = f.service.SendImmediate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, report.Sent)
	assert.Len(t, f.sender.sent, 2)
}

func TestDeliveryService_Send_SkipsBatchesAlreadySent(t *testing.T) {
	f := newDeliveryFixture()
	f.deliveries.pending = []*models.PendingDelivery{
		pending(1, 1, 1, 10, "Mál USK24030045"),
		pending(2, 1, 1, 11, "Mál USK24030045"),
	}
	// Another run sent every delivery after this run listed them.
	inner := f.deliveries
	f.service = NewDeliveryService(&listOnceDeliveries{fakeDeliveryRepo: inner, rows: inner.pending},
		f.matcher, mail.NewRenderer("https://planwatch.is"), f.sender, f.reporter, passthroughTx, zap.NewNop())
	_, err := inner.MarkSent(context.Background(), []int64{1, 2}, "other-run")
	require.NoError(t, err)

	report, err := f.service.SendImmediate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Sent)
	assert.Empty(t, f.sender.sent)
}

func TestDeliveryService_Send_PartiallyLockedBatch(t *testing.T) {
	f := newDeliveryFixture()
	f.deliveries.pending = []*models.PendingDelivery{
		pending(1, 1, 1, 10, "Mál USK24030045"),
		pending(2, 1, 1, 11, "Mál USK24030045"),
	}
	inner := f.deliveries
	f.service = NewDeliveryService(&listOnceDeliveries{fakeDeliveryRepo: inner, rows: inner.pending},
		f.matcher, mail.NewRenderer("https://planwatch.is"), f.sender, f.reporter, passthroughTx, zap.NewNop())
	_, err := inner.MarkSent(context.Background(), []int64{1}, "other-run")
	require.NoError(t, err)

	report, err := f.service.SendImmediate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	require.Len(t, f.sender.sent, 1)
	assert.NotContains(t, f.sender.sent[0].TextBody, "/fundargerdir/10")
	assert.Contains(t, f.sender.sent[0].TextBody, "/fundargerdir/11")
}

func TestDeliveryService_Send_Nothing(t *testing.T) {
	f := newDeliveryFixture()

	report, err := f.service.SendWeekly(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Batches)
	assert.Empty(t, f.sender.sent)
}

func TestDeliveryService_Send_CanceledContext(t *testing.T) {
	f := newDeliveryFixture()
	f.deliveries.pending = []*models.PendingDelivery{pending(1, 1, 1, 10, "Mál USK24030045")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.SendImmediate(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sender.sent)
}

// listOnceDeliveries returns a fixed pending list, as if it had been read
// before another run marked the rows sent.
type listOnceDeliveries struct {
	*fakeDeliveryRepo
	rows []*models.PendingDelivery
}

func (m *listOnceDeliveries) ListPending(context.Context, bool) ([]*models.PendingDelivery, error) {
	return m.rows, nil
}
