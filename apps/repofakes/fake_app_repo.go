package repofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/pagemd/auth-server/apps"
)

var _ apps.Repo = (*FakeAppRepo)(nil)

type FakeAppRepo struct {
	byClientID map[string]*apps.App
	byID       map[string]*apps.App
	lock       sync.RWMutex
}

func NewFakeAppRepo() *FakeAppRepo {
	return &FakeAppRepo{
		byClientID: make(map[string]*apps.App),
		byID:       make(map[string]*apps.App),
	}
}

func (r *FakeAppRepo) GetByClientID(_ context.Context, clientID string) (*apps.App, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	app, ok := r.byClientID[clientID]
	if !ok {
		return nil, apps.ErrNotFound
	}
	copied := *app
	return &copied, nil
}

func (r *FakeAppRepo) Upsert(_ context.Context, app *apps.App) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := *app
	r.byClientID[app.ClientID] = &copied
	r.byID[app.ID] = &copied
	return nil
}

func (r *FakeAppRepo) UpdateStatus(_ context.Context, appID string, status apps.Status) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	app, ok := r.byID[appID]
	if !ok {
		return apps.ErrNotFound
	}
	app.Status = status
	return nil
}

func (r *FakeAppRepo) UpdateSecretHash(_ context.Context, appID, secretHash string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	app, ok := r.byID[appID]
	if !ok {
		return apps.ErrNotFound
	}
	app.SecretHash = secretHash
	return nil
}

func (r *FakeAppRepo) List(_ context.Context, partnerID string, offset, limit int) ([]*apps.App, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	list := make([]*apps.App, 0)
	for _, app := range r.byID {
		if partnerID == "" || app.PartnerID == partnerID {
			copied := *app
			list = append(list, &copied)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}

var _ apps.PartnerRepo = (*FakePartnerRepo)(nil)

type FakePartnerRepo struct {
	partners map[string]*apps.Partner
	lock     sync.RWMutex
}

func NewFakePartnerRepo() *FakePartnerRepo {
	return &FakePartnerRepo{partners: make(map[string]*apps.Partner)}
}

func (r *FakePartnerRepo) Get(_ context.Context, partnerID string) (*apps.Partner, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	partner, ok := r.partners[partnerID]
	if !ok {
		return nil, apps.ErrNotFound
	}
	copied := *partner
	return &copied, nil
}

func (r *FakePartnerRepo) Upsert(_ context.Context, partner *apps.Partner) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := *partner
	r.partners[partner.ID] = &copied
	return nil
}
