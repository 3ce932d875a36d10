package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
)

// SellerStore looks sellers up by login code.
type SellerStore interface {
	GetSellerByCode(ctx context.Context, code string) (*db.Seller, error)
}

// Authenticator exchanges seller credentials for a bearer token.
type Authenticator struct {
	sellers SellerStore
	tokens  *TokenService
	logger  *zap.Logger
}

func NewAuthenticator(sellers SellerStore, tokens *TokenService, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		sellers: sellers,
		tokens:  tokens,
		logger:  logger,
	}
}

// Compared against when the code is unknown so both failure paths cost one bcrypt round.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unused-password"), bcrypt.DefaultCost)

// Login verifies the seller's password and issues a token for the seller id.
// Unknown code and wrong password are the same error.
func (a *Authenticator) Login(ctx context.Context, code, password string) (string, *db.Seller, error) {
	if code == "" || password == "" {
		return "", nil, apperr.Validation("code and password are required")
	}

	seller, err := a.sellers.GetSellerByCode(ctx, code)
	if err != nil {
		return "", nil, err
	}

	hash := dummyHash
	if seller != nil {
		hash = []byte(seller.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || seller == nil {
		a.logger.Info("login rejected", zap.String("code", code))
		return "", nil, fmt.Errorf("%w: wrong code or password", apperr.ErrInvalidCredentials)
	}

	token, err := a.tokens.Issue(seller.ID)
	if err != nil {
		return "", nil, err
	}

	a.logger.Info("seller logged in",
		zap.Int64("seller_id", seller.ID),
		zap.String("code", seller.Code),
	)
	return token, seller, nil
}
