package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// bridgeScopes Zapier 桥接常用的权限组合
var bridgeScopes = []string{lifecycle.ScopeWebhookSubscribe, lifecycle.ScopeAnalysesRead}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := model.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT.Secret = strings.Repeat("s", 32)
	cfg.Vault.MasterKey = strings.Repeat("ab", 32)
	cfg.Database.Driver = "sqlite"
	config.Set(cfg)
	return cfg
}

func seedUser(t *testing.T, db *gorm.DB, email string, role model.UserRole) *model.User {
	t.Helper()
	u := &model.User{Email: email, Name: strings.Split(email, "@")[0], Role: role, Status: model.UserStatusActive}
	require.NoError(t, u.SetPassword("passw0rd123"))
	require.NoError(t, db.Create(u).Error)
	return u
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, subject, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Body: html})
	return nil
}
