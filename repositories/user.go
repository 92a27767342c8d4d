//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"fmt"
	"market-chat/domain"
	"market-chat/errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	SaveUser(profile domain.UserProfile) (domain.UserProfile, error)
	GetUser(id string) (domain.UserProfile, error)
	GetUsers(ids ...string) (map[string]domain.UserProfile, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

// SaveUser creates or replaces a profile. A missing ID is generated.
func (u UserRepository) SaveUser(profile domain.UserProfile) (domain.UserProfile, error) {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	data, err := encodeUser(profile)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("marshal failed: %w", err)
	}
	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(profile.ID), data)
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	return decodeUser(data)
}

// GetUser returns ErrUnknownUser when no profile is stored under id.
func (u UserRepository) GetUser(id string) (domain.UserProfile, error) {
	var profile domain.UserProfile
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		profile, err = getUser(txn, id)
		return err
	})
	return profile, err
}

// GetUsers resolves several ids in one snapshot. Unknown ids are absent
// from the result rather than reported as errors.
func (u UserRepository) GetUsers(ids ...string) (map[string]domain.UserProfile, error) {
	profiles := make(map[string]domain.UserProfile, len(ids))
	err := u.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if _, done := profiles[id]; done {
				continue
			}
			profile, err := getUser(txn, id)
			if errors.Is(err, errors.ErrUnknownUser) {
				continue
			}
			if err != nil {
				return err
			}
			profiles[id] = profile
		}
		return nil
	})
	return profiles, err
}

func getUser(txn *badger.Txn, id string) (domain.UserProfile, error) {
	item, err := txn.Get(userKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.UserProfile{}, fmt.Errorf("%w: %s", errors.ErrUnknownUser, id)
		}
		return domain.UserProfile{}, err
	}
	var profile domain.UserProfile
	err = item.Value(func(val []byte) error {
		profile, err = decodeUser(val)
		return err
	})
	return profile, err
}
