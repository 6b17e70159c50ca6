// Package identity signs shoppers and admins in and out with bcrypt
// password hashes and HS256 session tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cache"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	minPasswordLen = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// User is the signed-in principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IsAdmin reports whether u may use the back office.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Session is a signed token and the user it was issued to.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type profileRecord struct {
	Email        string `dynamodbav:"email"` // PK
	UserID       string `dynamodbav:"user_id"`
	PasswordHash string `dynamodbav:"password_hash"`
	Role         string `dynamodbav:"role"`
	CreatedAt    int64  `dynamodbav:"created_at"`
}

// Provider stores profiles in DynamoDB and keeps revoked token ids in a cache.
type Provider struct {
	client  aws.DynamoDBAPI
	table   string
	secret  []byte
	ttl     time.Duration
	revoked cache.Cache
	admins  map[string]bool
	cost    int
	nowFunc func() time.Time
}

// NewProvider returns a Provider. Emails listed in admins get the admin role
// when they sign up.
func NewProvider(client aws.DynamoDBAPI, table string, secret []byte, ttl time.Duration, revoked cache.Cache, admins []string) *Provider {
	p := &Provider{
		client:  client,
		table:   table,
		secret:  secret,
		ttl:     ttl,
		revoked: revoked,
		admins:  map[string]bool{},
		cost:    bcrypt.DefaultCost,
		nowFunc: time.Now,
	}
	for _, a := range admins {
		if a = normalizeEmail(a); a != "" {
			p.admins[a] = true
		}
	}
	return p
}

// SignUp registers email and returns a session for the new user.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := RoleCustomer
	if p.admins[email] {
		role = RoleAdmin
	}
	rec := profileRecord{
		Email:        email,
		UserID:       uuid.NewString(),
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    p.nowFunc().Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	_, err = p.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &p.table,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(email)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("put profile: %w", err)
	}
	return p.issue(User{ID: rec.UserID, Email: email, Role: role})
}

// SignIn checks the password of email and returns a new session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	out, err := p.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &p.table,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrInvalidCredentials
	}
	var rec profileRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return p.issue(User{ID: rec.UserID, Email: rec.Email, Role: rec.Role})
}

// SignOut revokes token until it would have expired anyway.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return err
	}
	remaining := c.ExpiresAt.Sub(p.nowFunc())
	if remaining <= 0 {
		return nil
	}
	return p.revoked.Set(ctx, p.revoked.GenerateKey("revoked", c.ID), "1", remaining)
}

// Authenticate returns the user a valid, unrevoked token was issued to.
func (p *Provider) Authenticate(ctx context.Context, token string) (*User, error) {
	c, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	v, err := p.revoked.Get(ctx, p.revoked.GenerateKey("revoked", c.ID))
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if v != "" {
		return nil, ErrInvalidToken
	}
	return &User{ID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

func (p *Provider) issue(u User) (*Session, error) {
	now := p.nowFunc()
	exp := now.Add(p.ttl)
	c := claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: exp, User: u}, nil
}

func (p *Provider) parse(token string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.nowFunc), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func awsString(s string) *string { return &s }
