// Package testutil opens in-memory sqlite databases carrying the service
// schema for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

const schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'guest',
	identity_status TEXT NOT NULL DEFAULT 'UNVERIFIED',
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE listings (
	id INTEGER PRIMARY KEY,
	owner_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	price_cents INTEGER NOT NULL,
	currency TEXT NOT NULL,
	country TEXT NOT NULL DEFAULT '',
	province TEXT NOT NULL DEFAULT '',
	capacity INTEGER NOT NULL DEFAULT 1,
	min_nights INTEGER NOT NULL DEFAULT 1,
	max_nights INTEGER NOT NULL DEFAULT 0,
	pricing_mode TEXT NOT NULL DEFAULT 'NIGHTLY',
	instant_book BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE listing_deposit_policies (
	listing_id INTEGER PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	amount_cents INTEGER NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'EUR',
	description TEXT NOT NULL DEFAULT '',
	refund_days INTEGER NOT NULL DEFAULT 7,
	updated_at DATETIME
);
CREATE TABLE listing_instant_book_settings (
	listing_id INTEGER PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	require_verified_id BOOLEAN NOT NULL DEFAULT 1,
	require_positive_reviews BOOLEAN NOT NULL DEFAULT 0,
	min_guest_rating REAL NOT NULL DEFAULT 0,
	min_nights INTEGER NOT NULL DEFAULT 0,
	max_nights INTEGER NOT NULL DEFAULT 0,
	advance_notice_hours INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME
);
CREATE TABLE guest_reviews (
	id INTEGER PRIMARY KEY,
	guest_id INTEGER NOT NULL,
	host_id INTEGER NOT NULL,
	booking_id INTEGER NOT NULL,
	rating INTEGER NOT NULL,
	created_at DATETIME
);
CREATE TABLE bookings (
	id INTEGER PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	listing_id INTEGER NOT NULL,
	guest_id INTEGER NOT NULL,
	host_id INTEGER NOT NULL,
	start_date DATETIME NOT NULL,
	end_date DATETIME NOT NULL,
	nights INTEGER NOT NULL,
	guest_count INTEGER NOT NULL,
	total_price_cents INTEGER NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	host_fee_cents INTEGER NOT NULL DEFAULT 0,
	guest_fee_cents INTEGER NOT NULL DEFAULT 0,
	tax_on_guest_fee_cents INTEGER NOT NULL DEFAULT 0,
	refunded_amount_cents INTEGER NOT NULL DEFAULT 0,
	pricing_mode TEXT NOT NULL DEFAULT 'NIGHTLY',
	instant_book BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE payment_transactions (
	id INTEGER PRIMARY KEY,
	booking_id INTEGER NOT NULL,
	network TEXT NOT NULL,
	purpose TEXT NOT NULL DEFAULT 'booking',
	external_ref TEXT,
	capture_ref TEXT,
	amount_cents INTEGER NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME,
	updated_at DATETIME,
	UNIQUE (network, external_ref)
);
CREATE TABLE processed_events (
	id INTEGER PRIMARY KEY,
	network TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	received_at DATETIME,
	processed_at DATETIME,
	UNIQUE (network, event_id)
);
CREATE TABLE security_deposits (
	id INTEGER PRIMARY KEY,
	booking_id INTEGER NOT NULL UNIQUE,
	listing_id INTEGER NOT NULL,
	guest_id INTEGER NOT NULL,
	host_id INTEGER NOT NULL,
	amount_cents INTEGER NOT NULL,
	captured_amount_cents INTEGER,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	intent_id TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	capture_reason TEXT NOT NULL DEFAULT '',
	evidence TEXT NOT NULL DEFAULT '[]',
	captured_at DATETIME,
	captured_by INTEGER,
	released_at DATETIME,
	release_reason TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE wallets (
	host_id INTEGER PRIMARY KEY,
	balance_cents INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME
);
CREATE TABLE wallet_ledger_entries (
	id INTEGER PRIMARY KEY,
	host_id INTEGER NOT NULL,
	booking_id INTEGER NOT NULL,
	delta_cents INTEGER NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME,
	UNIQUE (host_id, reason)
);
`

// NewDB opens a fresh shared-cache in-memory database with the full schema.
// The pool is capped at one connection so concurrent transactions queue
// instead of failing with SQLITE_BUSY.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// NewNode returns a snowflake node for test id generation.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

type UserSeed struct {
	ID             snowflake.ID
	Role           string
	IdentityStatus string
}

func SeedUser(t *testing.T, conn *gorm.DB, u UserSeed) {
	t.Helper()
	role := u.Role
	if role == "" {
		role = "guest"
	}
	status := u.IdentityStatus
	if status == "" {
		status = "VERIFIED"
	}
	if err := conn.Exec(
		`INSERT INTO users (id, email, role, identity_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, fmt.Sprintf("user%d@example.com", u.ID), role, status, time.Now().UTC(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

type ListingSeed struct {
	ID          snowflake.ID
	OwnerID     snowflake.ID
	PriceCents  int64
	Currency    string
	Country     string
	Province    string
	Capacity    int
	MinNights   int
	MaxNights   int
	PricingMode string
}

func SeedListing(t *testing.T, conn *gorm.DB, l ListingSeed) {
	t.Helper()
	if l.Currency == "" {
		l.Currency = "EUR"
	}
	if l.Country == "" {
		l.Country = "FR"
	}
	if l.Capacity == 0 {
		l.Capacity = 4
	}
	if l.MinNights == 0 {
		l.MinNights = 1
	}
	if l.PricingMode == "" {
		l.PricingMode = "NIGHTLY"
	}
	now := time.Now().UTC()
	if err := conn.Exec(
		`INSERT INTO listings (id, owner_id, title, slug, price_cents, currency, country, province, capacity,
			min_nights, max_nights, pricing_mode, instant_book, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OwnerID, "Seaside flat", fmt.Sprintf("seaside-flat-%d", l.ID), l.PriceCents, l.Currency, l.Country,
		l.Province, l.Capacity, l.MinNights, l.MaxNights, l.PricingMode, false, now, now,
	).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
}

func SeedDepositPolicy(t *testing.T, conn *gorm.DB, listingID snowflake.ID, amountCents int64, refundDays int) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO listing_deposit_policies (listing_id, enabled, amount_cents, currency, description, refund_days, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		listingID, true, amountCents, "EUR", "Damage deposit", refundDays, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed deposit policy: %v", err)
	}
}

type BookingSeed struct {
	ID                 snowflake.ID
	ListingID          snowflake.ID
	GuestID            snowflake.ID
	HostID             snowflake.ID
	Start              time.Time
	End                time.Time
	Status             string
	TotalPriceCents    int64
	HostFeeCents       int64
	GuestFeeCents      int64
	TaxOnGuestFeeCents int64
}

// SeedBooking inserts a booking row directly. Defaults describe a three
// night PENDING stay at 100.00 EUR per night with 12% guest and 3% host fees.
func SeedBooking(t *testing.T, conn *gorm.DB, b BookingSeed) {
	t.Helper()
	if b.Start.IsZero() {
		b.Start = time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
	}
	if b.End.IsZero() {
		b.End = b.Start.AddDate(0, 0, 3)
	}
	if b.Status == "" {
		b.Status = "PENDING"
	}
	if b.TotalPriceCents == 0 {
		b.TotalPriceCents = 30000
		b.HostFeeCents = 900
		b.GuestFeeCents = 3600
		b.TaxOnGuestFeeCents = 180
	}
	nights := int(b.End.Sub(b.Start).Hours() / 24)
	now := time.Now().UTC()
	if err := conn.Exec(
		`INSERT INTO bookings (id, reference, listing_id, guest_id, host_id, start_date, end_date, nights, guest_count,
			total_price_cents, currency, status, host_fee_cents, guest_fee_cents, tax_on_guest_fee_cents,
			refunded_amount_cents, pricing_mode, instant_book, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, fmt.Sprintf("REF%d", b.ID), b.ListingID, b.GuestID, b.HostID, b.Start, b.End, nights, 2,
		b.TotalPriceCents, "EUR", b.Status, b.HostFeeCents, b.GuestFeeCents, b.TaxOnGuestFeeCents,
		0, "NIGHTLY", false, now, now,
	).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}
