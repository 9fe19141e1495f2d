package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/retry"
)

type fakeExtractor struct {
	names map[string][]models.Span
	err   error
	calls int
}

func (m *fakeExtractor) Extract(_ context.Context, _ string) (map[string][]models.Span, error) {
	m.calls++
	return m.names, m.err
}

type processorFixture struct {
	councils  *fakeCouncilRepo
	cases     *fakeCaseRepo
	minutes   *fakeMinuteRepo
	addresses *fakeAddressRepo
	entities  *fakeEntityRepo
	searcher  *fakeSearcher
	extractor *fakeExtractor
	processor MinuteProcessor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		councils: newFakeCouncilRepo(),
		cases:    newFakeCaseRepo(),
		minutes:  newFakeMinuteRepo(),
		addresses: &fakeAddressRepo{known: map[string]*models.Address{
			"Laugavegur 12A": {ID: 77, Street: "Laugavegur", Number: 12, Letter: "A", Municipality: "Reykjavík"},
		}},
		entities:  &fakeEntityRepo{},
		searcher:  &fakeSearcher{results: map[string]string{"Reitir hf.": companyKT}},
		extractor: &fakeExtractor{},
	}
	f.processor = NewMinuteProcessor(
		MinuteStores{Councils: f.councils, Cases: f.cases, Minutes: f.minutes, Addresses: f.addresses},
		NewEntityResolver(f.entities, f.searcher, zap.NewNop()),
		lexicon.NewRuleTokenizer(),
		f.extractor,
		zap.NewNop(),
	)
	return f
}

func testMeeting(url string, start time.Time) *models.MeetingRecord {
	return &models.MeetingRecord{
		Name:         "Fundur nr. 120",
		URL:          url,
		Start:        start,
		Municipality: "reykjavik",
		CouncilType:  models.CouncilPlanning,
	}
}

func testMinute(remarks string) *models.MinuteRecord {
	return &models.MinuteRecord{
		Serial:      "3",
		CaseSerial:  "USK24030045",
		CaseAddress: "Laugavegur 12A",
		Headline:    "Laugavegur 12A - breyting á deiliskipulagi",
		Inquiry:     "Lögð fram umsókn Reita hf. um breytingu á deiliskipulagi.",
		Remarks:     remarks,
	}
}

func (f *processorFixture) caseBySerial(t *testing.T, serial string) *models.Case {
	t.Helper()
	for _, c := range f.cases.cases {
		if c.Serial == serial {
			return c
		}
	}
	t.Fatalf("case %s not stored", serial)
	return nil
}

func TestMinuteProcessor_Process(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.names = map[string][]models.Span{"Reitir hf.": {{Start: 17, End: 26}}}
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	record := testMinute("Samþykkt.")
	record.Entities = []models.EntityRecord{{Kennitala: "010130-2989", Name: "Jón Jónsson"}}
	record.Responses = []models.ResponseRecord{{Headline: "Umsögn skipulagsfulltrúa", Contents: "Jákvætt."}}
	record.Attachments = []models.AttachmentRecord{{URL: "https://example.is/a.pdf", Type: "application/pdf", Label: "Uppdráttur", Length: 1024}}

	minute, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/120", start), record)
	require.NoError(t, err)

	require.NotNil(t, minute.Status)
	assert.Equal(t, models.StatusApproved, *minute.Status)

	cs := f.caseBySerial(t, "USK24030045")
	require.NotNil(t, cs.Status)
	assert.Equal(t, models.StatusApproved, *cs.Status)
	assert.True(t, cs.Updated.Equal(start))
	require.NotNil(t, cs.AddressID)
	assert.Equal(t, int64(77), *cs.AddressID)
	assert.Equal(t, []string{"reykjavik:Laugavegur 12A"}, f.addresses.calls)

	links, err := f.cases.ListEntities(context.Background(), cs.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.False(t, links[0].Applicant, "mentioned company")
	assert.True(t, links[1].Applicant, "listed applicant")

	mentions, err := f.minutes.ListMentions(context.Background(), minute.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.EntityMention{{MinuteID: minute.ID, EntityID: links[0].EntityID, Start: 17, End: 26}}, mentions)

	assert.Len(t, f.minutes.responses, 1)
	assert.Len(t, f.minutes.attachments, 1)
}

func TestMinuteProcessor_Process_Idempotent(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.names = map[string][]models.Span{"Reitir hf.": {{Start: 17, End: 26}}}
	meeting := testMeeting("https://example.is/fundur/120", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	record := testMinute("Samþykkt.")
	record.Entities = []models.EntityRecord{{Kennitala: "0101302989", Name: "Jón Jónsson"}}

	first, err := f.processor.Process(context.Background(), meeting, record)
	require.NoError(t, err)
	second, err := f.processor.Process(context.Background(), meeting, record)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.councils.meetings, 1)
	assert.Len(t, f.cases.cases, 1)
	assert.Len(t, f.minutes.minutes, 1)
	assert.Len(t, f.entities.entities, 2)
	assert.Len(t, f.minutes.mentions[first.ID], 1)
	assert.Len(t, f.cases.entities, 2)
	assert.Len(t, f.addresses.calls, 1, "a linked address is not geocoded again")
}

func TestMinuteProcessor_Process_StatusFollowsMeetingOrder(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	march := testMeeting("https://example.is/fundur/120", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	april := testMeeting("https://example.is/fundur/124", time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))

	// The later meeting is processed first.
	_, err := f.processor.Process(ctx, april, testMinute("Samþykkt."))
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, march, testMinute("Frestað."))
	require.NoError(t, err)

	cs := f.caseBySerial(t, "USK24030045")
	assert.Equal(t, models.StatusApproved, *cs.Status)
	assert.True(t, cs.Updated.Equal(april.Start))

	// Reprocessing the same meeting may still correct the status.
	_, err = f.processor.Process(ctx, april, testMinute("Synjað. Samræmist ekki aðalskipulagi."))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, *cs.Status)
}

func TestMinuteProcessor_Process_UnclassifiedLaterMinuteClearsStatus(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	march := testMeeting("https://example.is/fundur/120", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	april := testMeeting("https://example.is/fundur/124", time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))

	_, err := f.processor.Process(ctx, march, testMinute("Samþykkt."))
	require.NoError(t, err)
	minute, err := f.processor.Process(ctx, april, testMinute("Umræða um málið."))
	require.NoError(t, err)

	assert.Nil(t, minute.Status)
	require.Len(t, f.cases.advances, 2)
	assert.Nil(t, f.cases.advances[1].status)
	cs := f.caseBySerial(t, "USK24030045")
	assert.Nil(t, cs.Status)
	assert.True(t, cs.Updated.Equal(april.Start))
}

func TestMinuteProcessor_Process_LateOlderMinuteAfterUnclassified(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	march := testMeeting("https://example.is/fundur/120", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	april := testMeeting("https://example.is/fundur/124", time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))

	// April has no decision; March's approval arrives afterwards.
	_, err := f.processor.Process(ctx, april, testMinute("Umræða um málið."))
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, march, testMinute("Samþykkt."))
	require.NoError(t, err)

	cs := f.caseBySerial(t, "USK24030045")
	assert.Nil(t, cs.Status, "an older meeting must not overwrite the case")
	require.NotNil(t, cs.Updated)
	assert.True(t, cs.Updated.Equal(april.Start))
}

func TestMinuteProcessor_Process_UnknownCouncilIsPermanent(t *testing.T) {
	f := newProcessorFixture()
	meeting := testMeeting("https://example.is/fundur/1", time.Now())
	meeting.Municipality = "hafnarfjordur"

	_, err := f.processor.Process(context.Background(), meeting, testMinute("Samþykkt."))

	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
	assert.Empty(t, f.councils.meetings)
}

func TestMinuteProcessor_Process_MissingCaseSerial(t *testing.T) {
	f := newProcessorFixture()
	record := testMinute("Samþykkt.")
	record.CaseSerial = ""

	_, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), record)

	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
}

func TestMinuteProcessor_Process_InvalidApplicantSkipped(t *testing.T) {
	f := newProcessorFixture()
	record := testMinute("Samþykkt.")
	record.Entities = []models.EntityRecord{
		{Kennitala: "0101302988", Name: "Rangt númer"},
		{Kennitala: companyKT, Name: "Reitir hf."},
	}

	_, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), record)
	require.NoError(t, err)

	require.Len(t, f.entities.entities, 1)
	assert.Equal(t, companyKT, f.entities.entities[0].Kennitala)
}

func TestMinuteProcessor_Process_UnknownAddress(t *testing.T) {
	f := newProcessorFixture()
	record := testMinute("Samþykkt.")
	record.CaseAddress = "Óþekktgata 1"

	_, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), record)
	require.NoError(t, err)

	assert.Nil(t, f.caseBySerial(t, "USK24030045").AddressID)
}

func TestMinuteProcessor_Process_ExtractorErrors(t *testing.T) {
	t.Run("transient error fails the minute", func(t *testing.T) {
		f := newProcessorFixture()
		f.extractor.err = errors.New("lexicon: 503 service unavailable")

		_, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), testMinute("Samþykkt."))

		require.Error(t, err)
		assert.True(t, retry.IsRetryable(err))
	})

	t.Run("other errors skip mentions", func(t *testing.T) {
		f := newProcessorFixture()
		f.extractor.err = retry.Permanent(errors.New("lexicon: unparseable"))

		minute, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), testMinute("Samþykkt."))

		require.NoError(t, err)
		assert.Empty(t, f.minutes.mentions[minute.ID])
	})
}

func TestMinuteProcessor_Process_UnresolvedNamesIgnored(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.names = map[string][]models.Span{"Enginn ehf.": {{Start: 0, End: 11}}}

	minute, err := f.processor.Process(context.Background(), testMeeting("https://example.is/fundur/1", time.Now()), testMinute("Samþykkt."))

	require.NoError(t, err)
	assert.Empty(t, f.minutes.mentions[minute.ID])
	assert.Empty(t, f.cases.entities)
}

func TestMinuteProcessor_Index(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	minute, err := f.processor.Process(ctx, testMeeting("https://example.is/fundur/1", time.Now()), testMinute("Samþykkt."))
	require.NoError(t, err)

	require.NoError(t, f.processor.Index(ctx, minute.ID))

	stored, err := f.minutes.Get(ctx, minute.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Lemmas, "deiliskipulagi")
	assert.Contains(t, stored.Lemmas, "samþykkt")

	// Processing again keeps the derived lemmas.
	_, err = f.processor.Process(ctx, testMeeting("https://example.is/fundur/1", time.Now()), testMinute("Samþykkt."))
	require.NoError(t, err)
	again, err := f.minutes.Get(ctx, minute.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Lemmas, again.Lemmas)
}

func TestMinuteProcessor_Index_UnknownMinute(t *testing.T) {
	f := newProcessorFixture()
	assert.Error(t, f.processor.Index(context.Background(), 999))
}
