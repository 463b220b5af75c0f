// Package caltoken mints and resolves the opaque tokens behind the
// per-user calendar feed.
package caltoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
	"studybuddy/internal/timez"
)

// MintingPathEndpoint generates a fresh random token per request.
// MintingPathEnv serves one preconfigured token for every mint call.
const (
	MintingPathEndpoint = "endpoint"
	MintingPathEnv      = "env"

	tokenByteLength = 32
)

// Record is one calendar token binding. revoked is true exactly when
// RevokedAt is set.
type Record struct {
	Token     string `json:"token" dynamodbav:"token"`
	UserID    string `json:"userId" dynamodbav:"userId"`
	CreatedAt string `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt string `json:"updatedAt" dynamodbav:"updatedAt"`
	Revoked   bool   `json:"revoked" dynamodbav:"revoked"`
	RevokedAt string `json:"revokedAt,omitempty" dynamodbav:"revokedAt,omitempty"`
}

// Validate enforces the record invariants.
func (r Record) Validate() error {
	if r.Token == "" {
		return apperr.NewValidation("token: must not be empty")
	}
	if r.UserID == "" {
		return apperr.NewValidation("userId: must not be empty")
	}
	created, err := timez.Parse(r.CreatedAt)
	if err != nil {
		return apperr.NewValidation("createdAt: %v", err)
	}
	updated, err := timez.Parse(r.UpdatedAt)
	if err != nil {
		return apperr.NewValidation("updatedAt: %v", err)
	}
	if updated.Before(created) {
		return apperr.NewValidation("updatedAt: must not precede createdAt")
	}
	if r.Revoked != (r.RevokedAt != "") {
		return apperr.NewValidation("revoked: must be set exactly when revokedAt is set")
	}
	if r.RevokedAt != "" {
		revoked, err := timez.Parse(r.RevokedAt)
		if err != nil {
			return apperr.NewValidation("revokedAt: %v", err)
		}
		if revoked.Before(updated) {
			return apperr.NewValidation("revokedAt: must not precede updatedAt")
		}
	}
	return nil
}

// Service mints, resolves, and revokes calendar tokens.
type Service struct {
	db    awssdk.DynamoDBAPI
	table string
	log   logging.Logger

	mintingPath string
	seededToken string
	seededUser  string

	now func() time.Time
}

// Option tunes Service construction.
type Option func(*Service)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeededToken switches minting to the env path using the given
// preconfigured token, optionally bound to a single user.
func WithSeededToken(token, userID string) Option {
	return func(s *Service) {
		s.mintingPath = MintingPathEnv
		s.seededToken = token
		s.seededUser = userID
	}
}

// NewService wires a Service over the tokens table.
func NewService(db awssdk.DynamoDBAPI, table string, log logging.Logger, opts ...Option) *Service {
	s := &Service{
		db:          db,
		table:       table,
		log:         logging.OrNop(log),
		mintingPath: MintingPathEndpoint,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newToken() (string, error) {
	raw := make([]byte, tokenByteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Mint issues a token bound to userID and persists it.
func (s *Service) Mint(ctx context.Context, userID string) (Record, error) {
	if userID == "" {
		return Record{}, apperr.NewValidation("userId: must not be empty")
	}
	if s.table == "" {
		return Record{}, apperr.NewMisconfigured("CALENDAR_TOKENS_TABLE")
	}

	token := s.seededToken
	if s.mintingPath == MintingPathEnv {
		if token == "" {
			return Record{}, apperr.NewMisconfigured("CALENDAR_TOKEN")
		}
		if s.seededUser != "" && s.seededUser != userID {
			return Record{}, apperr.NewValidation("userId: does not match the configured token binding")
		}
	} else {
		var err error
		if token, err = newToken(); err != nil {
			return Record{}, err
		}
	}

	now := timez.Format(s.now())
	record := Record{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.Get(ctx, token); err == nil && existing != nil {
		// Env-path mints are repeatable; keep the original creation time.
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.put(ctx, record); err != nil {
		return Record{}, err
	}
	s.log.Info("calendar token minted for user %s", userID)
	return record, nil
}

// Get resolves a token to its record, nil when unknown.
func (s *Service) Get(ctx context.Context, token string) (*Record, error) {
	if token == "" {
		return nil, apperr.NewValidation("token: must not be empty")
	}
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CALENDAR_TOKENS_TABLE")
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"token": &ddbtypes.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		return nil, apperr.NewUpstream("calendar token lookup", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var record Record
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("decode calendar token record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &record, nil
}

// ResolveForFeed resolves a feed token; revoked and unknown tokens are
// both reported as not found.
func (s *Service) ResolveForFeed(ctx context.Context, token string) (*Record, error) {
	record, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Revoked {
		return nil, apperr.NewNotFound("calendar token")
	}
	return record, nil
}

// Revoke marks a token revoked. Returns nil when the token is unknown.
func (s *Service) Revoke(ctx context.Context, token, revokedAt string) (*Record, error) {
	record, err := s.Get(ctx, token)
	if err != nil || record == nil {
		return nil, err
	}
	if revokedAt == "" {
		revokedAt = timez.Format(s.now())
	} else if _, err := timez.Parse(revokedAt); err != nil {
		return nil, apperr.NewValidation("revokedAt: %v", err)
	}
	record.Revoked = true
	record.RevokedAt = revokedAt
	record.UpdatedAt = revokedAt
	if err := s.put(ctx, *record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) put(ctx context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("encode calendar token record: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return apperr.NewUpstream("calendar token write", err)
	}
	return nil
}
