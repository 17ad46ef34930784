package user

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// FindUsersByEmail returns every user whose normalized email matches.
// Email is unique, so the slice holds at most one entry.
func (r *Repository) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	var users []User
	err := r.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(email)).
		Limit(1).
		Find(&users).Error
	return users, err
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	users, err := r.FindUsersByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns everyone except the given user, by name.
func (r *Repository) ListUsers(ctx context.Context, exceptID string) ([]User, error) {
	var users []User
	err := r.db.WithContext(ctx).
		Where("id <> ?", exceptID).
		Order("name ASC").
		Limit(200).
		Find(&users).Error
	return users, err
}

func (r *Repository) UpdatePassword(ctx context.Context, id, hash string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("password", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
