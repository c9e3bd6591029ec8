package authorization

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuthzService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'guest'
	)`).Error; err != nil {
		t.Fatalf("create users: %v", err)
	}

	enforcer, err := NewEnforcer(conn)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})
	return svc, conn
}

func insertUser(t *testing.T, conn *gorm.DB, id snowflake.ID, role string) {
	t.Helper()
	if err := conn.Exec(`INSERT INTO users (id, email, role) VALUES (?, ?, ?)`, id, fmt.Sprintf("%d@example.com", id), role).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestAuthorizeDepositCapture(t *testing.T) {
	svc, conn := setupAuthzService(t)
	ctx := context.Background()

	host := snowflake.ID(10)
	otherHost := snowflake.ID(11)
	admin := snowflake.ID(12)
	guest := snowflake.ID(13)
	insertUser(t, conn, host, "host")
	insertUser(t, conn, otherHost, "host")
	insertUser(t, conn, admin, "admin")
	insertUser(t, conn, guest, "guest")

	owner := UserSubject(host)

	if err := svc.Authorize(ctx, UserSubject(host), ObjectDeposit, ActionDepositCapture, owner); err != nil {
		t.Fatalf("expected listing owner to capture, got %v", err)
	}
	if err := svc.Authorize(ctx, UserSubject(admin), ObjectDeposit, ActionDepositCapture, owner); err != nil {
		t.Fatalf("expected admin to capture, got %v", err)
	}
	if err := svc.Authorize(ctx, UserSubject(otherHost), ObjectDeposit, ActionDepositCapture, owner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for other host, got %v", err)
	}
	if err := svc.Authorize(ctx, UserSubject(guest), ObjectDeposit, ActionDepositCapture, owner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for guest, got %v", err)
	}
}

func TestAuthorizeMatchesAnyOwner(t *testing.T) {
	svc, conn := setupAuthzService(t)
	ctx := context.Background()

	host := snowflake.ID(20)
	guest := snowflake.ID(21)
	insertUser(t, conn, host, "host")
	insertUser(t, conn, guest, "guest")

	if err := svc.Authorize(ctx, UserSubject(guest), ObjectDeposit, ActionDepositView, UserSubject(host), UserSubject(guest)); err != nil {
		t.Fatalf("expected guest to view own deposit, got %v", err)
	}
}

func TestAuthorizeSystemAndUnknownActors(t *testing.T) {
	svc, _ := setupAuthzService(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, SystemActor, ObjectDeposit, ActionDepositRelease); err != nil {
		t.Fatalf("expected system release, got %v", err)
	}
	if err := svc.Authorize(ctx, SystemActor, ObjectDeposit, ActionDepositCapture); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected system capture to be forbidden, got %v", err)
	}
	if err := svc.Authorize(ctx, "user:99", ObjectDeposit, ActionDepositView); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected unknown user to be forbidden, got %v", err)
	}
	if err := svc.Authorize(ctx, "api_key:1", ObjectDeposit, ActionDepositView); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
}
