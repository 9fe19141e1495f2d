//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/testhelpers"
)

// pipelineFixture is one council with a meeting, a case and a minute, plus a user.
type pipelineFixture struct {
	t       *testing.T
	ctx     context.Context
	council *models.Council
	meeting *models.Meeting
	caseRow *models.Case
	minute  *models.Minute
	user    *models.User

	councils      CouncilRepository
	cases         CaseRepository
	minutes       MinuteRepository
	entities      EntityRepository
	addresses     AddressRepository
	subscriptions SubscriptionRepository
	deliveries    DeliveryRepository
	users         UserRepository
}

func setupPipeline(t *testing.T) *pipelineFixture {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, testhelpers.AllTables...)

	f := &pipelineFixture{
		t:             t,
		ctx:           engineDB.Context(t),
		councils:      NewCouncilRepository(),
		cases:         NewCaseRepository(),
		minutes:       NewMinuteRepository(),
		entities:      NewEntityRepository(),
		addresses:     NewAddressRepository(),
		subscriptions: NewSubscriptionRepository(),
		deliveries:    NewDeliveryRepository(),
		users:         NewUserRepository(),
	}

	m, err := f.councils.UpsertMunicipality(f.ctx, "reykjavik", "Reykjavíkurborg")
	require.NoError(t, err)
	f.council, err = f.councils.UpsertCouncil(f.ctx, m.ID, models.CouncilBuildingOfficer, "Byggingarfulltrúi")
	require.NoError(t, err)
	f.meeting = f.addMeeting("https://reykjavik.is/fundur/1", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	f.caseRow, err = f.cases.Upsert(f.ctx, f.council.ID, "BN060001", "Laugavegur 1")
	require.NoError(t, err)
	f.minute, err = f.minutes.Upsert(f.ctx, &models.Minute{
		CaseID:    f.caseRow.ID,
		MeetingID: f.meeting.ID,
		Serial:    "1",
		Headline:  "Laugavegur 1",
		Inquiry:   "Sótt er um leyfi til að byggja svalir.",
		Remarks:   "Samþykkt.",
	})
	require.NoError(t, err)
	f.user, err = f.users.Add(f.ctx, "ibui@example.is")
	require.NoError(t, err)
	return f
}

func (f *pipelineFixture) addMeeting(url string, start time.Time) *models.Meeting {
	f.t.Helper()
	meeting, err := f.councils.UpsertMeeting(f.ctx, &models.Meeting{
		CouncilID: f.council.ID,
		Name:      "Afgreiðslufundur byggingarfulltrúa",
		URL:       url,
		Start:     start,
	})
	require.NoError(f.t, err)
	return meeting
}

func (f *pipelineFixture) subscribe(sub models.Subscription) *models.Subscription {
	f.t.Helper()
	sub.UserID = f.user.ID
	sub.Active = true
	sub.Immediate = true
	created, err := f.subscriptions.Create(f.ctx, &sub)
	require.NoError(f.t, err)
	return created
}

func (f *pipelineFixture) facts() *MatchFacts {
	f.t.Helper()
	facts, err := f.minutes.LoadMatchFacts(f.ctx, f.minute.ID)
	require.NoError(f.t, err)
	return facts
}

func subscriptionIDs(subs []*models.Subscription) []int64 {
	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	return ids
}

func TestDeliveryRepository_CreateIsIdempotent(t *testing.T) {
	f := setupPipeline(t)
	sub := f.subscribe(models.Subscription{Type: models.SubscriptionCase, CaseID: &f.caseRow.ID})

	created, err := f.deliveries.Create(f.ctx, sub.ID, f.minute.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.deliveries.Create(f.ctx, sub.ID, f.minute.ID)
	require.NoError(t, err)
	assert.False(t, created)

	var count int
	scope, _ := database.GetScope(f.ctx)
	require.NoError(t, scope.Conn.QueryRow(f.ctx,
		`SELECT COUNT(*) FROM deliveries WHERE subscription_id = $1 AND minute_id = $2`,
		sub.ID, f.minute.ID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCaseRepository_AdvanceStatusIgnoresOlderMeetings(t *testing.T) {
	f := setupPipeline(t)
	t1 := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)

	approved, delayed := models.StatusApproved, models.StatusDelayed
	advanced, err := f.cases.AdvanceStatus(f.ctx, f.caseRow.ID, &approved, t2)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = f.cases.AdvanceStatus(f.ctx, f.caseRow.ID, &delayed, t1)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := f.cases.Get(f.ctx, f.caseRow.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.Equal(t, models.StatusApproved, *got.Status)
	assert.True(t, got.Updated.Equal(t2))
}

func TestCaseRepository_AdvanceStatusStoresUnclassified(t *testing.T) {
	f := setupPipeline(t)
	march := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	approved := models.StatusApproved

	advanced, err := f.cases.AdvanceStatus(f.ctx, f.caseRow.ID, nil, april)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = f.cases.AdvanceStatus(f.ctx, f.caseRow.ID, &approved, march)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := f.cases.Get(f.ctx, f.caseRow.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Status)
	require.NotNil(t, got.Updated)
	assert.True(t, got.Updated.Equal(april))
}

func TestSubscriptionRepository_MatchComposesWithOr(t *testing.T) {
	f := setupPipeline(t)
	address, err := f.addresses.Create(f.ctx, &models.Address{
		Street: "Laugavegur", Number: 1, Postcode: 101, Municipality: "Reykjavík",
		Lat: 64.1466, Lon: -21.9426,
	})
	require.NoError(t, err)
	require.NoError(t, f.cases.SetAddressID(f.ctx, f.caseRow.ID, address.ID))

	a := f.subscribe(models.Subscription{Type: models.SubscriptionCase, CaseID: &f.caseRow.ID})
	b := f.subscribe(models.Subscription{Type: models.SubscriptionAddress, AddressID: &address.ID})

	matched, err := f.subscriptions.Match(f.ctx, f.facts())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, subscriptionIDs(matched))

	require.NoError(t, f.subscriptions.SetActive(f.ctx, a.ID, false))
	require.NoError(t, f.subscriptions.SetActive(f.ctx, b.ID, false))

	matched, err = f.subscriptions.Match(f.ctx, f.facts())
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestSubscriptionRepository_RadiusBoundary(t *testing.T) {
	f := setupPipeline(t)
	// 0.00106 degrees of latitude is about 117.9 m.
	caseAddress, err := f.addresses.Create(f.ctx, &models.Address{
		Street: "Laugavegur", Number: 1, Postcode: 101, Municipality: "Reykjavík",
		Lat: 64.1466, Lon: -21.9426,
	})
	require.NoError(t, err)
	home, err := f.addresses.Create(f.ctx, &models.Address{
		Street: "Grettisgata", Number: 2, Postcode: 101, Municipality: "Reykjavík",
		Lat: 64.14766, Lon: -21.9426,
	})
	require.NoError(t, err)
	require.NoError(t, f.cases.SetAddressID(f.ctx, f.caseRow.ID, caseAddress.ID))

	var distance float64
	scope, _ := database.GetScope(f.ctx)
	require.NoError(t, scope.Conn.QueryRow(f.ctx, `SELECT distance_m($1, $2, $3, $4)`,
		caseAddress.Lat, caseAddress.Lon, home.Lat, home.Lon).Scan(&distance))
	assert.InDelta(t, 117.9, distance, 0.5)

	near := f.subscribe(models.Subscription{Type: models.SubscriptionRadius, AddressID: &home.ID, Radius: ptr(100)})
	far := f.subscribe(models.Subscription{Type: models.SubscriptionRadius, AddressID: &home.ID, Radius: ptr(200)})

	matched, err := f.subscriptions.Match(f.ctx, f.facts())
	require.NoError(t, err)
	ids := subscriptionIDs(matched)
	assert.NotContains(t, ids, near.ID)
	assert.Contains(t, ids, far.ID)
}

func TestSubscriptionRepository_CouncilTypeRestriction(t *testing.T) {
	f := setupPipeline(t)
	all := f.subscribe(models.Subscription{Type: models.SubscriptionCase, CaseID: &f.caseRow.ID})
	same := f.subscribe(models.Subscription{
		Type: models.SubscriptionCase, CaseID: &f.caseRow.ID,
		CouncilTypes: []models.CouncilType{models.CouncilBuildingOfficer},
	})
	f.subscribe(models.Subscription{
		Type: models.SubscriptionCase, CaseID: &f.caseRow.ID,
		CouncilTypes: []models.CouncilType{models.CouncilCity},
	})

	matched, err := f.subscriptions.Match(f.ctx, f.facts())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{all.ID, same.ID}, subscriptionIDs(matched))
}

func TestSubscriptionRepository_SearchAndEntity(t *testing.T) {
	f := setupPipeline(t)
	require.NoError(t, f.minutes.SetLemmas(f.ctx, f.minute.ID, "sækja leyfi byggja svalir"))

	entity, err := f.entities.CreateIfAbsent(f.ctx, &models.Entity{
		Kennitala: "5501692829", Name: "Klettur ehf.", Slug: "klettur-ehf", Kind: models.EntityKindCompany,
	})
	require.NoError(t, err)
	require.NoError(t, f.cases.AddEntity(f.ctx, f.caseRow.ID, entity.ID, false))

	search := f.subscribe(models.Subscription{
		Type: models.SubscriptionSearch, SearchQuery: ptr("svalir"), SearchLemmas: ptr("svalir"),
	})
	f.subscribe(models.Subscription{
		Type: models.SubscriptionSearch, SearchQuery: ptr("bílskúr"), SearchLemmas: ptr("bílskúr"),
	})
	byEntity := f.subscribe(models.Subscription{Type: models.SubscriptionEntity, EntityID: &entity.ID})

	matched, err := f.subscriptions.Match(f.ctx, f.facts())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{search.ID, byEntity.ID}, subscriptionIDs(matched))
}

func TestDeliveryRepository_ArchiveOnSubscriptionDelete(t *testing.T) {
	f := setupPipeline(t)
	sub := f.subscribe(models.Subscription{Type: models.SubscriptionCase, CaseID: &f.caseRow.ID})
	_, err := f.deliveries.Create(f.ctx, sub.ID, f.minute.ID)
	require.NoError(t, err)

	pending, err := f.deliveries.ListPending(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	deliveryID := pending[0].DeliveryID
	assert.Equal(t, "BN060001", pending[0].SubscriptionOn)

	err = database.WithTx(f.ctx, func(ctx context.Context) error {
		archived, err := f.deliveries.ArchiveForSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, archived)
		return f.subscriptions.Delete(ctx, sub.ID)
	})
	require.NoError(t, err)

	d, err := f.deliveries.Get(f.ctx, deliveryID)
	require.NoError(t, err)
	assert.Nil(t, d.SubscriptionID)
	require.NotNil(t, d.DeletedSubscriptionID)
	require.NotNil(t, d.DeletedUserID)
	assert.Equal(t, sub.ID, *d.DeletedSubscriptionID)
	assert.Equal(t, f.user.ID, *d.DeletedUserID)
	assert.True(t, d.IsOrphaned())

	for _, immediate := range []bool{true, false} {
		pending, err := f.deliveries.ListPending(f.ctx, immediate)
		require.NoError(t, err)
		assert.Empty(t, pending)
	}
}

func TestDeliveryRepository_MarkSentOnlyOnce(t *testing.T) {
	f := setupPipeline(t)
	sub := f.subscribe(models.Subscription{Type: models.SubscriptionCase, CaseID: &f.caseRow.ID})
	_, err := f.deliveries.Create(f.ctx, sub.ID, f.minute.ID)
	require.NoError(t, err)
	pending, err := f.deliveries.ListPending(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	ids := []int64{pending[0].DeliveryID}

	err = database.WithTx(f.ctx, func(ctx context.Context) error {
		locked, err := f.deliveries.LockUnsent(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, ids, locked)
		n, err := f.deliveries.MarkSent(ctx, locked, "msg-1")
		assert.EqualValues(t, 1, n)
		return err
	})
	require.NoError(t, err)

	n, err := f.deliveries.MarkSent(f.ctx, ids, "msg-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err := f.deliveries.Get(f.ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, d.MailConfirmation)
	assert.Equal(t, "msg-1", *d.MailConfirmation)

	pending, err = f.deliveries.ListPending(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEntityRepository_LookupAndCreate(t *testing.T) {
	f := setupPipeline(t)

	first, err := f.entities.CreateIfAbsent(f.ctx, &models.Entity{
		Kennitala: "5501692829", Name: "Klettur ehf.", Slug: "klettur-ehf", Kind: models.EntityKindCompany,
	})
	require.NoError(t, err)
	again, err := f.entities.CreateIfAbsent(f.ctx, &models.Entity{
		Kennitala: "5501692829", Name: "Klettur", Slug: "klettur", Kind: models.EntityKindCompany,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Klettur ehf.", again.Name)

	found, err := f.entities.FindByName(f.ctx, "KLÉTTUR EHF.", models.EntityKindCompany)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)

	found, err = f.entities.FindByName(f.ctx, "Klettur ehf.", models.EntityKindPerson)
	require.NoError(t, err)
	assert.Empty(t, found)

	similar, err := f.entities.FuzzySearch(f.ctx, "kletur-ehf", 5, 10)
	require.NoError(t, err)
	require.Len(t, similar, 1)

	_, err = f.entities.GetByKennitala(f.ctx, "0101302989")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMinuteRepository_MentionsAreAdditive(t *testing.T) {
	f := setupPipeline(t)
	mention := models.EntityMention{MinuteID: f.minute.ID, EntityID: 1, Start: 0, End: 5}
	other := models.EntityMention{MinuteID: f.minute.ID, EntityID: 2, Start: 10, End: 15}

	require.NoError(t, f.minutes.AddMentions(f.ctx, f.minute.ID, []models.EntityMention{mention}))
	require.NoError(t, f.minutes.AddMentions(f.ctx, f.minute.ID, []models.EntityMention{mention, other}))

	_, err := f.minutes.Upsert(f.ctx, &models.Minute{
		CaseID: f.caseRow.ID, MeetingID: f.meeting.ID, Serial: "1", Inquiry: "Breytt.",
	})
	require.NoError(t, err)

	got, err := f.minutes.ListMentions(f.ctx, f.minute.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.EntityMention{mention, other}, got)
}

func TestMinuteRepository_SweepQueries(t *testing.T) {
	f := setupPipeline(t)

	unindexed, err := f.minutes.ListUnindexed(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.minute.ID}, unindexed)

	require.NoError(t, f.minutes.SetLemmas(f.ctx, f.minute.ID, "svalir samþykkja"))
	unindexed, err = f.minutes.ListUnindexed(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unindexed)

	recent, err := f.minutes.ListProcessedSince(f.ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.minute.ID}, recent)

	recent, err = f.minutes.ListProcessedSince(f.ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestAddressRepository_Geocode(t *testing.T) {
	f := setupPipeline(t)
	created, err := f.addresses.Create(f.ctx, &models.Address{
		Street: "Skólavörðustígur", Number: 12, Letter: "A", Postcode: 101, Municipality: "Reykjavík",
		Lat: 64.1438, Lon: -21.9297,
	})
	require.NoError(t, err)

	got, err := f.addresses.Geocode(f.ctx, "SKÓLAVÖRÐUSTÍGUR 12a - breyting", "reykjavík")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.addresses.Geocode(f.ctx, "Skólavörðustígur 13", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
