package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/classifier"
	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
	"github.com/planwatch/planwatch-engine/pkg/retry"
)

// NameExtractor finds canonical entity names and the spans they occur at.
type NameExtractor interface {
	Extract(ctx context.Context, text string) (map[string][]models.Span, error)
}

// MinuteProcessor persists scraped minutes and derives their enrichment.
type MinuteProcessor interface {
	// Process stores one scraped minute of a meeting: meeting, case, minute,
	// classified status, entity mentions, applicants, responses and
	// attachments. Safe to run again for the same input.
	Process(ctx context.Context, meeting *models.MeetingRecord, minute *models.MinuteRecord) (*models.Minute, error)
	// Index derives the search lemmas of a stored minute.
	Index(ctx context.Context, minuteID int64) error
}

// MinuteStores groups the repositories the minute processor writes to.
type MinuteStores struct {
	Councils  repositories.CouncilRepository
	Cases     repositories.CaseRepository
	Minutes   repositories.MinuteRepository
	Addresses repositories.AddressRepository
}

type minuteProcessor struct {
	stores    MinuteStores
	resolver  EntityResolver
	tokenizer lexicon.Tokenizer
	extractor NameExtractor
	logger    *zap.Logger
}

// NewMinuteProcessor creates a MinuteProcessor.
func NewMinuteProcessor(
	stores MinuteStores,
	resolver EntityResolver,
	tokenizer lexicon.Tokenizer,
	extractor NameExtractor,
	logger *zap.Logger,
) MinuteProcessor {
	return &minuteProcessor{
		stores:    stores,
		resolver:  resolver,
		tokenizer: tokenizer,
		extractor: extractor,
		logger:    logger.Named("minute-processor"),
	}
}

var _ MinuteProcessor = (*minuteProcessor)(nil)

func (s *minuteProcessor) Process(ctx context.Context, meeting *models.MeetingRecord, record *models.MinuteRecord) (*models.Minute, error) {
	if record.CaseSerial == "" {
		return nil, retry.Permanent(fmt.Errorf("minute %q of %s has no case serial", record.Serial, meeting.URL))
	}

	council, err := s.stores.Councils.GetCouncil(ctx, meeting.Municipality, meeting.CouncilType)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, retry.Permanent(fmt.Errorf("unknown council %s/%s: %w", meeting.Municipality, meeting.CouncilType, err))
		}
		return nil, err
	}

	mt, err := s.stores.Councils.UpsertMeeting(ctx, &models.Meeting{
		CouncilID: council.ID,
		Name:      meeting.Name,
		URL:       meeting.URL,
		Start:     meeting.Start,
	})
	if err != nil {
		return nil, err
	}

	cs, err := s.stores.Cases.Upsert(ctx, council.ID, record.CaseSerial, record.CaseAddress)
	if err != nil {
		return nil, err
	}
	if err := s.geocode(ctx, cs, meeting.Municipality); err != nil {
		return nil, err
	}

	status := classifier.Classify(ctx, s.tokenizer, record.Remarks)
	minute, err := s.stores.Minutes.Upsert(ctx, &models.Minute{
		CaseID:    cs.ID,
		MeetingID: mt.ID,
		Serial:    record.Serial,
		Headline:  record.Headline,
		Inquiry:   record.Inquiry,
		Remarks:   record.Remarks,
		Status:    status,
	})
	if err != nil {
		return nil, err
	}

	advanced, err := s.stores.Cases.AdvanceStatus(ctx, cs.ID, status, mt.Start)
	if err != nil {
		return nil, err
	}
	if !advanced {
		s.logger.Debug("Case already reflects a later meeting",
			zap.String("case", cs.Serial),
			zap.Time("meeting_start", mt.Start))
	}

	if err := s.linkMentionedEntities(ctx, cs.ID, minute); err != nil {
		return nil, err
	}
	if err := s.linkApplicants(ctx, cs.ID, record.Entities); err != nil {
		return nil, err
	}

	for _, r := range record.Responses {
		if err := s.stores.Minutes.UpsertResponse(ctx, &models.Response{
			MinuteID: minute.ID,
			Headline: r.Headline,
			Contents: r.Contents,
		}); err != nil {
			return nil, err
		}
	}
	for _, a := range record.Attachments {
		if err := s.stores.Minutes.UpsertAttachment(ctx, &models.Attachment{
			MinuteID: minute.ID,
			URL:      a.URL,
			Type:     a.Type,
			Label:    a.Label,
			Length:   a.Length,
		}); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("Processed minute",
		zap.Int64("minute_id", minute.ID),
		zap.String("case", cs.Serial),
		zap.String("meeting", mt.URL))
	return minute, nil
}

// geocode links the case to a registered address the first time its
// address text can be found.
func (s *minuteProcessor) geocode(ctx context.Context, cs *models.Case, municipality string) error {
	if cs.AddressID != nil || strings.TrimSpace(cs.Address) == "" {
		return nil
	}
	addr, err := s.stores.Addresses.Geocode(ctx, cs.Address, municipality)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Debug("Case address not found",
				zap.String("case", cs.Serial),
				zap.String("address", cs.Address))
			return nil
		}
		return err
	}
	if err := s.stores.Cases.SetAddressID(ctx, cs.ID, addr.ID); err != nil {
		return err
	}
	cs.AddressID = &addr.ID
	return nil
}

// linkMentionedEntities resolves the company names found in the inquiry,
// records where they were mentioned and associates them with the case.
func (s *minuteProcessor) linkMentionedEntities(ctx context.Context, caseID int64, minute *models.Minute) error {
	if minute.Inquiry == "" {
		return nil
	}

	names, err := s.extractor.Extract(ctx, minute.Inquiry)
	if err != nil {
		if retry.IsRetryable(err) {
			return fmt.Errorf("failed to extract names: %w", err)
		}
		s.logger.Warn("Name extraction failed",
			zap.Int64("minute_id", minute.ID),
			zap.Error(err))
		return nil
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var mentions []models.EntityMention
	for _, name := range ordered {
		entity, err := s.resolver.Resolve(ctx, name)
		if err != nil {
			return err
		}
		if entity == nil {
			continue
		}
		if err := s.stores.Cases.AddEntity(ctx, caseID, entity.ID, false); err != nil {
			return err
		}
		for _, span := range names[name] {
			mentions = append(mentions, models.EntityMention{
				MinuteID: minute.ID,
				EntityID: entity.ID,
				Start:    span.Start,
				End:      span.End,
			})
		}
	}

	if len(mentions) == 0 {
		return nil
	}
	return s.stores.Minutes.AddMentions(ctx, minute.ID, mentions)
}

// linkApplicants associates the entities listed by the council website
// with the case as applicants.
func (s *minuteProcessor) linkApplicants(ctx context.Context, caseID int64, entities []models.EntityRecord) error {
	for _, rec := range entities {
		entity, err := s.resolver.ResolveByKennitala(ctx, rec.Kennitala, rec.Name)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidKennitala) {
				s.logger.Warn("Skipping applicant with invalid kennitala",
					zap.String("name", rec.Name),
					zap.Error(err))
				continue
			}
			return err
		}
		if err := s.stores.Cases.AddEntity(ctx, caseID, entity.ID, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *minuteProcessor) Index(ctx context.Context, minuteID int64) error {
	minute, err := s.stores.Minutes.Get(ctx, minuteID)
	if err != nil {
		return err
	}

	text := strings.Join([]string{minute.Headline, minute.Inquiry, minute.Remarks}, "\n")
	lemmas, err := lexicon.Lemmas(ctx, s.tokenizer, text)
	if err != nil {
		return fmt.Errorf("failed to lemmatize minute %d: %w", minuteID, err)
	}
	if lemmas == minute.Lemmas {
		return nil
	}
	return s.stores.Minutes.SetLemmas(ctx, minuteID, lemmas)
}
