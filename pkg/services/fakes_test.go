package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/kennitala"
	"github.com/planwatch/planwatch-engine/pkg/mail"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
	"github.com/planwatch/planwatch-engine/pkg/textutil"
)

// passthroughTx runs fn without a transaction.
func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// noScope hands out the context unchanged.
func noScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func ptr[T any](v T) *T { return &v }

// validKennitala generates a valid identifier born on date.
func validKennitala(t *testing.T, date time.Time, kind kennitala.Kind) string {
	t.Helper()
	for seq := 20; seq < 100; seq++ {
		if kt, err := kennitala.Generate(date, seq, kind); err == nil {
			return kt
		}
	}
	t.Fatalf("no valid kennitala for %s", date)
	return ""
}

// ============================================================================
// Entity repository and registry
// ============================================================================

type fakeEntityRepo struct {
	mu          sync.Mutex
	entities    []*models.Entity
	findErr     error
	createCalls int
	fuzzyArgs   []any
}

func (m *fakeEntityRepo) FindByName(_ context.Context, name string, kind models.EntityKind) ([]*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*models.Entity
	for _, e := range m.entities {
		if e.Kind == kind && textutil.Slug(e.Name) == textutil.Slug(name) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *fakeEntityRepo) GetByKennitala(_ context.Context, kt string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.Kennitala == kt {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeEntityRepo) Get(_ context.Context, id int64) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeEntityRepo) CreateIfAbsent(_ context.Context, entity *models.Entity) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	for _, e := range m.entities {
		if e.Kennitala == entity.Kennitala {
			return e, nil
		}
	}
	created := *entity
	created.ID = int64(len(m.entities) + 1)
	m.entities = append(m.entities, &created)
	return &created, nil
}

func (m *fakeEntityRepo) FuzzySearch(_ context.Context, slug string, maxDistance, limit int) ([]*models.Entity, error) {
	m.fuzzyArgs = []any{slug, maxDistance, limit}
	return m.entities, nil
}

func (m *fakeEntityRepo) add(kt, name string, kind models.EntityKind) *models.Entity {
	e, _ := m.CreateIfAbsent(context.Background(), &models.Entity{
		Kennitala: kt, Name: name, Slug: textutil.Slug(name), Kind: kind,
	})
	m.createCalls = 0
	return e
}

var _ repositories.EntityRepository = (*fakeEntityRepo)(nil)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	calls   []string
}

func (m *fakeSearcher) Lookup(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if err, ok := m.errs[name]; ok {
		return "", err
	}
	if kt, ok := m.results[name]; ok {
		return kt, nil
	}
	return "", apperrors.ErrNotFound
}

// ============================================================================
// Council, case, minute and address repositories
// ============================================================================

type fakeCouncilRepo struct {
	councils map[string]*models.Council
	meetings map[string]*models.Meeting
}

func newFakeCouncilRepo() *fakeCouncilRepo {
	return &fakeCouncilRepo{
		councils: map[string]*models.Council{
			"reykjavik/skipulagsrad": {ID: 1, MunicipalityID: 1, Type: models.CouncilPlanning, Name: "Umhverfis- og skipulagsráð"},
		},
		meetings: map[string]*models.Meeting{},
	}
}

func (m *fakeCouncilRepo) UpsertMunicipality(_ context.Context, slug, name string) (*models.Municipality, error) {
	return &models.Municipality{ID: 1, Slug: slug, Name: name}, nil
}

func (m *fakeCouncilRepo) UpsertCouncil(_ context.Context, municipalityID int64, ct models.CouncilType, name string) (*models.Council, error) {
	c := &models.Council{ID: int64(len(m.councils) + 1), MunicipalityID: municipalityID, Type: ct, Name: name}
	return c, nil
}

func (m *fakeCouncilRepo) GetCouncil(_ context.Context, slug string, ct models.CouncilType) (*models.Council, error) {
	c, ok := m.councils[slug+"/"+string(ct)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *fakeCouncilRepo) UpsertMeeting(_ context.Context, meeting *models.Meeting) (*models.Meeting, error) {
	if existing, ok := m.meetings[meeting.URL]; ok {
		existing.Name, existing.Start = meeting.Name, meeting.Start
		return existing, nil
	}
	created := *meeting
	created.ID = int64(len(m.meetings) + 1)
	m.meetings[meeting.URL] = &created
	return &created, nil
}

func (m *fakeCouncilRepo) GetMeeting(_ context.Context, id int64) (*models.Meeting, error) {
	for _, mt := range m.meetings {
		if mt.ID == id {
			return mt, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

type advanceCall struct {
	caseID int64
	status *models.DecisionStatus
	start  time.Time
}

type fakeCaseRepo struct {
	cases    map[string]*models.Case
	entities map[[2]int64]bool // (case, entity) -> applicant
	advances []advanceCall
}

func newFakeCaseRepo() *fakeCaseRepo {
	return &fakeCaseRepo{cases: map[string]*models.Case{}, entities: map[[2]int64]bool{}}
}

func (m *fakeCaseRepo) Upsert(_ context.Context, councilID int64, serial, address string) (*models.Case, error) {
	key := fmt.Sprintf("%d/%s", councilID, serial)
	c, ok := m.cases[key]
	if !ok {
		c = &models.Case{ID: int64(len(m.cases) + 1), CouncilID: councilID, Serial: serial}
		m.cases[key] = c
	}
	if address != "" {
		c.Address = address
	}
	out := *c
	return &out, nil
}

func (m *fakeCaseRepo) Get(_ context.Context, id int64) (*models.Case, error) {
	for _, c := range m.cases {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeCaseRepo) SetAddressID(ctx context.Context, caseID, addressID int64) error {
	c, err := m.Get(ctx, caseID)
	if err != nil {
		return err
	}
	c.AddressID = &addressID
	return nil
}

// AdvanceStatus applies the same ordering guard as the SQL.
func (m *fakeCaseRepo) AdvanceStatus(ctx context.Context, caseID int64, status *models.DecisionStatus, start time.Time) (bool, error) {
	m.advances = append(m.advances, advanceCall{caseID, status, start})
	c, err := m.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	if c.Updated != nil && c.Updated.After(start) {
		return false, nil
	}
	if status != nil {
		st := *status
		status = &st
	}
	c.Status, c.Updated = status, &start
	return true, nil
}

func (m *fakeCaseRepo) AddEntity(_ context.Context, caseID, entityID int64, applicant bool) error {
	key := [2]int64{caseID, entityID}
	m.entities[key] = m.entities[key] || applicant
	return nil
}

func (m *fakeCaseRepo) ListEntities(_ context.Context, caseID int64) ([]*models.CaseEntity, error) {
	var out []*models.CaseEntity
	for key, applicant := range m.entities {
		if key[0] == caseID {
			out = append(out, &models.CaseEntity{CaseID: key[0], EntityID: key[1], Applicant: applicant})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

type fakeMinuteRepo struct {
	minutes     map[[2]int64]*models.Minute // (meeting, case)
	mentions    map[int64][]models.EntityMention
	responses   map[string]*models.Response
	attachments map[string]*models.Attachment
	facts       map[int64]*repositories.MatchFacts
	processedAt map[int64]time.Time
}

func newFakeMinuteRepo() *fakeMinuteRepo {
	return &fakeMinuteRepo{
		minutes:     map[[2]int64]*models.Minute{},
		mentions:    map[int64][]models.EntityMention{},
		responses:   map[string]*models.Response{},
		attachments: map[string]*models.Attachment{},
		facts:       map[int64]*repositories.MatchFacts{},
		processedAt: map[int64]time.Time{},
	}
}

func (m *fakeMinuteRepo) Upsert(_ context.Context, minute *models.Minute) (*models.Minute, error) {
	key := [2]int64{minute.MeetingID, minute.CaseID}
	stored, ok := m.minutes[key]
	if !ok {
		stored = &models.Minute{ID: int64(len(m.minutes) + 1)}
		m.minutes[key] = stored
	}
	id, lemmas := stored.ID, stored.Lemmas
	*stored = *minute
	stored.ID, stored.Lemmas = id, lemmas
	m.processedAt[id] = time.Now()
	out := *stored
	return &out, nil
}

func (m *fakeMinuteRepo) Get(_ context.Context, id int64) (*models.Minute, error) {
	for _, mn := range m.minutes {
		if mn.ID == id {
			out := *mn
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeMinuteRepo) SetLemmas(_ context.Context, id int64, lemmas string) error {
	for _, mn := range m.minutes {
		if mn.ID == id {
			mn.Lemmas = lemmas
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// AddMentions merges like the SQL: duplicates collapse.
func (m *fakeMinuteRepo) AddMentions(_ context.Context, minuteID int64, mentions []models.EntityMention) error {
	for _, add := range mentions {
		dup := false
		for _, have := range m.mentions[minuteID] {
			if have == add {
				dup = true
				break
			}
		}
		if !dup {
			m.mentions[minuteID] = append(m.mentions[minuteID], add)
		}
	}
	return nil
}

func (m *fakeMinuteRepo) ListMentions(_ context.Context, minuteID int64) ([]models.EntityMention, error) {
	return m.mentions[minuteID], nil
}

func (m *fakeMinuteRepo) UpsertResponse(_ context.Context, r *models.Response) error {
	m.responses[fmt.Sprintf("%d/%s", r.MinuteID, r.Headline)] = r
	return nil
}

func (m *fakeMinuteRepo) UpsertAttachment(_ context.Context, a *models.Attachment) error {
	m.attachments[fmt.Sprintf("%d/%s", a.MinuteID, a.URL)] = a
	return nil
}

func (m *fakeMinuteRepo) ListUnindexed(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for _, mn := range m.minutes {
		if mn.Lemmas == "" && (mn.Headline != "" || mn.Inquiry != "" || mn.Remarks != "") {
			ids = append(ids, mn.ID)
		}
	}
	return sortLimit(ids, limit), nil
}

func (m *fakeMinuteRepo) ListProcessedSince(_ context.Context, since time.Time, limit int) ([]int64, error) {
	var ids []int64
	for id, at := range m.processedAt {
		if !at.Before(since) {
			ids = append(ids, id)
		}
	}
	return sortLimit(ids, limit), nil
}

func sortLimit(ids []int64, limit int) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (m *fakeMinuteRepo) LoadMatchFacts(_ context.Context, minuteID int64) (*repositories.MatchFacts, error) {
	f, ok := m.facts[minuteID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return f, nil
}

type fakeAddressRepo struct {
	known map[string]*models.Address
	calls []string
}

func (m *fakeAddressRepo) Create(_ context.Context, a *models.Address) (*models.Address, error) {
	return a, nil
}

func (m *fakeAddressRepo) Get(_ context.Context, id int64) (*models.Address, error) {
	for _, a := range m.known {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeAddressRepo) Geocode(_ context.Context, text, municipality string) (*models.Address, error) {
	m.calls = append(m.calls, municipality+":"+text)
	if a, ok := m.known[text]; ok {
		return a, nil
	}
	return nil, apperrors.ErrNotFound
}

// ============================================================================
// Subscriptions and deliveries
// ============================================================================

type fakeSubscriptionRepo struct {
	subs    map[int64]*models.Subscription
	matches []*models.Subscription
	matchFn func(*repositories.MatchFacts) []*models.Subscription
	deleted []int64
	created []*models.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: map[int64]*models.Subscription{}}
}

func (m *fakeSubscriptionRepo) Create(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	created := *sub
	created.ID = int64(len(m.subs) + 1)
	created.Active = true
	m.subs[created.ID] = &created
	m.created = append(m.created, &created)
	return &created, nil
}

func (m *fakeSubscriptionRepo) Get(_ context.Context, id int64) (*models.Subscription, error) {
	s, ok := m.subs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (m *fakeSubscriptionRepo) ListByUser(_ context.Context, userID int64) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *fakeSubscriptionRepo) SetActive(_ context.Context, id int64, active bool) error {
	s, ok := m.subs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.Active = active
	return nil
}

func (m *fakeSubscriptionRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.subs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.subs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeSubscriptionRepo) Match(_ context.Context, facts *repositories.MatchFacts) ([]*models.Subscription, error) {
	if m.matchFn != nil {
		return m.matchFn(facts), nil
	}
	return m.matches, nil
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries []*models.Delivery
	pending    []*models.PendingDelivery
	archived   map[int64]int64
	marked     map[string][]int64 // confirmation -> ids
	createErr  error
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{archived: map[int64]int64{}, marked: map[string][]int64{}}
}

func (m *fakeDeliveryRepo) Create(_ context.Context, subscriptionID, minuteID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return false, m.createErr
	}
	for _, d := range m.deliveries {
		if d.SubscriptionID != nil && *d.SubscriptionID == subscriptionID && d.MinuteID == minuteID {
			return false, nil
		}
	}
	m.deliveries = append(m.deliveries, &models.Delivery{
		ID:             int64(len(m.deliveries) + 1),
		SubscriptionID: ptr(subscriptionID),
		MinuteID:       minuteID,
		CreatedAt:      time.Now(),
	})
	return true, nil
}

func (m *fakeDeliveryRepo) Get(_ context.Context, id int64) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *fakeDeliveryRepo) sent(id int64) bool {
	for _, ids := range m.marked {
		for _, s := range ids {
			if s == id {
				return true
			}
		}
	}
	return false
}

func (m *fakeDeliveryRepo) ListPending(_ context.Context, immediate bool) ([]*models.PendingDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PendingDelivery
	for _, p := range m.pending {
		if !m.sent(p.DeliveryID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *fakeDeliveryRepo) LockUnsent(_ context.Context, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, id := range ids {
		if !m.sent(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *fakeDeliveryRepo) MarkSent(_ context.Context, ids []int64, confirmation string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if !m.sent(id) {
			m.marked[confirmation] = append(m.marked[confirmation], id)
			n++
		}
	}
	return n, nil
}

func (m *fakeDeliveryRepo) ArchiveForSubscription(_ context.Context, subscriptionID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.deliveries {
		if d.SubscriptionID != nil && *d.SubscriptionID == subscriptionID {
			d.DeletedSubscriptionID = ptr(subscriptionID)
			d.SubscriptionID = nil
			n++
		}
	}
	m.archived[subscriptionID] = n
	return n, nil
}

var (
	_ repositories.DeliveryRepository     = (*fakeDeliveryRepo)(nil)
	_ repositories.SubscriptionRepository = (*fakeSubscriptionRepo)(nil)
	_ repositories.MinuteRepository       = (*fakeMinuteRepo)(nil)
	_ repositories.CaseRepository         = (*fakeCaseRepo)(nil)
	_ repositories.CouncilRepository      = (*fakeCouncilRepo)(nil)
	_ repositories.AddressRepository      = (*fakeAddressRepo)(nil)
)

// ============================================================================
// Transport and reporting
// ============================================================================

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]error
	sent  []*mail.Message
	count int
}

func (m *fakeSender) Send(_ context.Context, msg *mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[msg.To]; ok {
		return "", err
	}
	m.count++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("conf-%d", m.count), nil
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (m *fakeReporter) Report(_ context.Context, err error, _ ...zap.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}
