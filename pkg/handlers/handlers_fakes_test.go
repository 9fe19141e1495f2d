package handlers

import (
	"context"
	"net/http"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/services"
	"github.com/planwatch/planwatch-engine/pkg/services/workqueue"
)

func noScope(next http.HandlerFunc) http.HandlerFunc { return next }

type recordingQueue struct {
	tasks []workqueue.Task
}

func (q *recordingQueue) Enqueue(task workqueue.Task) {
	q.tasks = append(q.tasks, task)
}

type fakeResolver struct {
	services.EntityResolver
	entities []*models.Entity
	query    string
	limit    int
	err      error
}

func (m *fakeResolver) FuzzySearch(_ context.Context, query string, limit int) ([]*models.Entity, error) {
	m.query, m.limit = query, limit
	return m.entities, m.err
}

type fakeSubscriptionService struct {
	subs    map[int64]*models.Subscription
	deleted []int64
	err     error
}

func newFakeSubscriptionService() *fakeSubscriptionService {
	return &fakeSubscriptionService{subs: map[int64]*models.Subscription{}}
}

func (m *fakeSubscriptionService) Create(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !sub.Validate() {
		return nil, apperrors.ErrInvalidSubscription
	}
	created := *sub
	created.ID = int64(len(m.subs) + 1)
	created.Active = true
	m.subs[created.ID] = &created
	return &created, nil
}

func (m *fakeSubscriptionService) Get(_ context.Context, id int64) (*models.Subscription, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return sub, nil
}

func (m *fakeSubscriptionService) ListByUser(_ context.Context, userID int64) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *fakeSubscriptionService) SetActive(_ context.Context, id int64, active bool) error {
	sub, ok := m.subs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	sub.Active = active
	return nil
}

func (m *fakeSubscriptionService) Delete(_ context.Context, id int64) error {
	if _, ok := m.subs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.subs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

var _ services.SubscriptionService = (*fakeSubscriptionService)(nil)
