package event

import (
	"context"
	"fmt"

	"github.com/altenburg/erp-identity/internal/domain"
	pkgkafka "github.com/altenburg/erp-identity/pkg/kafka"
	"github.com/altenburg/erp-identity/pkg/logger"
)

// Kafka topic constants for account events.
const (
	TopicUserRegistered   = "erp.identity.user.registered"
	TopicUserLocked       = "erp.identity.user.locked"
	TopicUserUnlocked     = "erp.identity.user.unlocked"
	TopicUserRolesChanged = "erp.identity.user.roles_changed"
	TopicUserDeleted      = "erp.identity.user.deleted"
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// SourceIdentityService identifies events originating from this service.
const SourceIdentityService = "erp-identity"

// Lock reasons carried in user.locked events.
const (
	LockReasonFailedLogins = "failed_logins"
	LockReasonAdmin        = "admin"
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// UserLockedData is the payload for a user.locked event.
type UserLockedData struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Reason         string `json:"reason"`
	FailedAttempts int    `json:"failed_attempts"`
}

// UserUnlockedData is the payload for a user.unlocked event.
type UserUnlockedData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserRolesChangedData is the payload for a user.roles_changed event.
type UserRolesChangedData struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Previous []string `json:"previous"`
	Current  []string `json:"current"`
}

// UserDeletedData is the payload for a user.deleted event.
type UserDeletedData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Publisher is the transport the producer writes to; *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes account events to Kafka.
type Producer struct {
	publisher Publisher
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(publisher Publisher) *Producer {
	return &Producer{publisher: publisher}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, u.ID, UserRegisteredData{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Roles:    u.RoleNames(),
	})
}

// PublishUserLocked publishes a user.locked event.
func (p *Producer) PublishUserLocked(ctx context.Context, u *domain.User, reason string) error {
	return p.publish(ctx, TopicUserLocked, u.ID, UserLockedData{
		ID:             u.ID,
		Username:       u.Username,
		Reason:         reason,
		FailedAttempts: u.FailedLoginAttempts,
	})
}

// PublishUserUnlocked publishes a user.unlocked event.
func (p *Producer) PublishUserUnlocked(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserUnlocked, u.ID, UserUnlockedData{ID: u.ID, Username: u.Username})
}

// PublishRolesChanged publishes a user.roles_changed event.
func (p *Producer) PublishRolesChanged(ctx context.Context, u *domain.User, previous []string) error {
	return p.publish(ctx, TopicUserRolesChanged, u.ID, UserRolesChangedData{
		ID:       u.ID,
		Username: u.Username,
		Previous: previous,
		Current:  u.RoleNames(),
	})
}

// PublishUserDeleted publishes a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserDeleted, u.ID, UserDeletedData{ID: u.ID, Username: u.Username})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeUser, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	evt.RequestID = logger.RequestIDFromContext(ctx)

	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
