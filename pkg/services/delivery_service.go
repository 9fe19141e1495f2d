package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/mail"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/reporting"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
)

// DigestRenderer turns a digest into a message.
type DigestRenderer interface {
	Render(d *mail.Digest) (*mail.Message, error)
}

// DeliveryService turns subscription matches into notifications.
type DeliveryService interface {
	// CreateDeliveries records a delivery for every subscription the minute
	// matches and returns how many were new.
	CreateDeliveries(ctx context.Context, minuteID int64) (int, error)
	// SendImmediate sends one message per user and meeting for the unsent
	// deliveries of immediate subscriptions.
	SendImmediate(ctx context.Context) (*SendReport, error)
	// SendWeekly sends one digest per user for the unsent deliveries of
	// weekly subscriptions.
	SendWeekly(ctx context.Context) (*SendReport, error)
}

// SendReport summarizes one batching run.
type SendReport struct {
	Batches int
	// Sent counts deliveries marked sent.
	Sent int
	// Skipped counts batches another run had already sent.
	Skipped int
	Failed  []BatchFailure
}

// BatchFailure is a batch whose deliveries were left unsent.
type BatchFailure struct {
	UserID    int64
	MeetingID int64 // zero for weekly digests
	Err       error
}

type deliveryService struct {
	deliveries repositories.DeliveryRepository
	matcher    SubscriptionMatcher
	renderer   DigestRenderer
	sender     mail.Sender
	reporter   reporting.Reporter
	tx         TxFunc
	logger     *zap.Logger
}

// NewDeliveryService creates a DeliveryService.
func NewDeliveryService(
	deliveries repositories.DeliveryRepository,
	matcher SubscriptionMatcher,
	renderer DigestRenderer,
	sender mail.Sender,
	reporter reporting.Reporter,
	tx TxFunc,
	logger *zap.Logger,
) DeliveryService {
	return &deliveryService{
		deliveries: deliveries,
		matcher:    matcher,
		renderer:   renderer,
		sender:     sender,
		reporter:   reporter,
		tx:         tx,
		logger:     logger.Named("delivery-service"),
	}
}

var _ DeliveryService = (*deliveryService)(nil)

func (s *deliveryService) CreateDeliveries(ctx context.Context, minuteID int64) (int, error) {
	subs, err := s.matcher.Match(ctx, minuteID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, sub := range subs {
		isNew, err := s.deliveries.Create(ctx, sub.ID, minuteID)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("Created deliveries",
			zap.Int64("minute_id", minuteID),
			zap.Int("matched", len(subs)),
			zap.Int("created", created))
	}
	return created, nil
}

func (s *deliveryService) SendImmediate(ctx context.Context) (*SendReport, error) {
	return s.send(ctx, false)
}

func (s *deliveryService) SendWeekly(ctx context.Context) (*SendReport, error) {
	return s.send(ctx, true)
}

func (s *deliveryService) send(ctx context.Context, weekly bool) (*SendReport, error) {
	pending, err := s.deliveries.ListPending(ctx, !weekly)
	if err != nil {
		return nil, err
	}

	batches := groupBatches(pending, weekly)
	report := &SendReport{Batches: len(batches)}
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		sent, err := s.sendBatch(ctx, b, weekly)
		if err != nil {
			report.Failed = append(report.Failed, BatchFailure{UserID: b.userID, MeetingID: b.meetingID, Err: err})
			s.reporter.Report(ctx, err,
				zap.Int64("user_id", b.userID),
				zap.Int64("meeting_id", b.meetingID),
				zap.Bool("weekly", weekly),
				zap.Int("deliveries", len(b.rows)))
			continue
		}
		if sent == 0 {
			report.Skipped++
			continue
		}
		report.Sent += sent
	}

	if report.Batches > 0 {
		s.logger.Info("Sent notifications",
			zap.Bool("weekly", weekly),
			zap.Int("batches", report.Batches),
			zap.Int("deliveries_sent", report.Sent),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", len(report.Failed)))
	}
	return report, nil
}

// sendBatch locks the batch's unsent deliveries, sends one message for
// them and marks them sent, all in one transaction. A failed send rolls
// back and leaves the deliveries for the next run.
func (s *deliveryService) sendBatch(ctx context.Context, b *deliveryBatch, weekly bool) (int, error) {
	sent := 0
	err := s.tx(ctx, func(ctx context.Context) error {
		locked, err := s.deliveries.LockUnsent(ctx, b.deliveryIDs())
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return nil
		}

		msg, err := s.renderer.Render(b.digest(locked, weekly))
		if err != nil {
			return err
		}
		confirmation, err := s.sender.Send(ctx, msg)
		if err != nil {
			return fmt.Errorf("failed to send to user %d: %w", b.userID, err)
		}

		n, err := s.deliveries.MarkSent(ctx, locked, confirmation)
		if err != nil {
			return err
		}
		sent = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

// deliveryBatch is the unsent deliveries one message covers: a user's
// deliveries for one meeting, or all of a user's deliveries for a digest.
type deliveryBatch struct {
	userID    int64
	email     string
	meetingID int64
	rows      []*models.PendingDelivery
}

// groupBatches splits pending deliveries, ordered by user, meeting and
// minute, into batches.
func groupBatches(rows []*models.PendingDelivery, weekly bool) []*deliveryBatch {
	var batches []*deliveryBatch
	var cur *deliveryBatch
	for _, r := range rows {
		if cur == nil || cur.userID != r.UserID || (!weekly && cur.meetingID != r.MeetingID) {
			cur = &deliveryBatch{userID: r.UserID, email: r.UserEmail}
			if !weekly {
				cur.meetingID = r.MeetingID
			}
			batches = append(batches, cur)
		}
		cur.rows = append(cur.rows, r)
	}
	return batches
}

func (b *deliveryBatch) deliveryIDs() []int64 {
	ids := make([]int64, len(b.rows))
	for i, r := range b.rows {
		ids[i] = r.DeliveryID
	}
	return ids
}

// digest builds the message content for the deliveries among locked.
// Each minute lists every subscription that matched it.
func (b *deliveryBatch) digest(locked []int64, weekly bool) *mail.Digest {
	keep := make(map[int64]bool, len(locked))
	for _, id := range locked {
		keep[id] = true
	}

	d := &mail.Digest{To: b.email, Weekly: weekly}
	var meetingID, minuteID int64
	for _, r := range b.rows {
		if !keep[r.DeliveryID] {
			continue
		}
		if len(d.Meetings) == 0 || r.MeetingID != meetingID {
			d.Meetings = append(d.Meetings, mail.MeetingSection{
				Name:    r.MeetingName,
				Council: r.CouncilName,
				Start:   r.MeetingStart,
			})
			meetingID = r.MeetingID
			minuteID = 0
		}
		section := &d.Meetings[len(d.Meetings)-1]
		if len(section.Minutes) == 0 || r.MinuteID != minuteID {
			minute := mail.MinuteSection{
				ID:         r.MinuteID,
				Serial:     r.MinuteSerial,
				CaseSerial: r.CaseSerial,
				Headline:   r.Headline,
			}
			if r.Status != nil {
				minute.Status = r.Status.Label()
			}
			section.Minutes = append(section.Minutes, minute)
			minuteID = r.MinuteID
		}
		last := &section.Minutes[len(section.Minutes)-1]
		last.Reasons = append(last.Reasons, r.SubscriptionOn)
	}
	return d
}
