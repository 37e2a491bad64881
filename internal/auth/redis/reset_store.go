package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/auth"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pwreset"

// ResetTokenStore keeps SHA-256 hashes of reset tokens in Redis. Two keys
// are written per token: token:<hash> -> user id, and user:<id> -> hash so
// that issuing a new token revokes the previous one.
type ResetTokenStore struct {
	client *goredis.Client
	prefix string
}

func NewResetTokenStore(client *goredis.Client, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &ResetTokenStore{client: client, prefix: prefix}
}

func (s *ResetTokenStore) tokenKey(hash string) string {
	return s.prefix + ":token:" + hash
}

func (s *ResetTokenStore) userKey(userID int64) string {
	return s.prefix + ":user:" + strconv.FormatInt(userID, 10)
}

func (s *ResetTokenStore) Save(ctx context.Context, userID int64, tokenHash string, ttl time.Duration) error {
	const maxRetries = 4
	userKey := s.userKey(userID)

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			previous, err := tx.Get(ctx, userKey).Result()
			if err != nil && !errors.Is(err, goredis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				if previous != "" {
					pipe.Del(ctx, s.tokenKey(previous))
				}
				pipe.Set(ctx, s.tokenKey(tokenHash), userID, ttl)
				pipe.Set(ctx, userKey, tokenHash, ttl)
				return nil
			})
			return err
		}, userKey)

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save reset token: %w", err)
		}
		return nil
	}
	return fmt.Errorf("save reset token: too much contention on user %d", userID)
}

func (s *ResetTokenStore) Lookup(ctx context.Context, tokenHash string) (int64, error) {
	v, err := s.client.Get(ctx, s.tokenKey(tokenHash)).Result()
	return s.parseOwner(v, err)
}

// Consume uses GETDEL so two concurrent confirmations cannot both succeed.
func (s *ResetTokenStore) Consume(ctx context.Context, tokenHash string) (int64, error) {
	v, err := s.client.GetDel(ctx, s.tokenKey(tokenHash)).Result()
	userID, err := s.parseOwner(v, err)
	if err != nil {
		return 0, err
	}

	// drop the user pointer unless a newer token replaced it meanwhile
	userKey := s.userKey(userID)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, userKey).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != tokenHash {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, userKey)
			return nil
		})
		return err
	}, userKey)
	if err != nil && !errors.Is(err, goredis.TxFailedErr) {
		return 0, fmt.Errorf("clear reset pointer: %w", err)
	}
	return userID, nil
}

func (s *ResetTokenStore) parseOwner(v string, err error) (int64, error) {
	if errors.Is(err, goredis.Nil) {
		return 0, auth.ErrResetTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read reset token: %w", err)
	}
	userID, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt reset token owner %q: %w", v, err)
	}
	return userID, nil
}
