package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, listing *Listing) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Listing, error)
	UpdateInstantBook(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool) error

	FindDepositPolicy(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (*DepositPolicy, error)
	UpsertDepositPolicy(ctx context.Context, db *gorm.DB, policy *DepositPolicy) error

	FindInstantBookSettings(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (*InstantBookSettings, error)
	UpsertInstantBookSettings(ctx context.Context, db *gorm.DB, settings *InstantBookSettings) error
}
