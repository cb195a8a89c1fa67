package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
)

// SeedOwnerUsername is the account created on an empty users table.
const SeedOwnerUsername = "owner"

// SeedOwner makes sure a fresh install can be logged into. When the users
// table is empty it creates SeedOwnerUsername with a random password,
// logs that password once at warn level and returns it. Otherwise it does
// nothing and returns "".
func SeedOwner(ctx context.Context, users UserRepository, logger *slog.Logger) (string, error) {
	n, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		logger.Debug("owner seed skipped", "users", n)
		return "", nil
	}

	// 26 base32 characters, 130 bits.
	password := rand.Text()
	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing owner password: %w", err)
	}

	if err := users.Create(ctx, &User{
		Username:     SeedOwnerUsername,
		DisplayName:  "Stores owner",
		PasswordHash: hash,
		Role:         RoleOwner,
		IsActive:     true,
	}); err != nil {
		return "", fmt.Errorf("creating owner account: %w", err)
	}

	logger.Warn("created initial owner account; change its password now",
		"username", SeedOwnerUsername,
		"password", password,
	)
	return password, nil
}
