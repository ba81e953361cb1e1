package handlers

import (
	"context"
	"errors"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StoreChecker reports the fetch store healthy when its database answers a ping.
type StoreChecker struct {
	DB Pinger
}

func (c StoreChecker) CheckHealth(ctx context.Context) error {
	if c.DB == nil {
		return errors.New("store not configured")
	}
	return c.DB.PingContext(ctx)
}

// SessionChecker reports the outbound session unhealthy once it is closed.
type SessionChecker struct {
	Session interface{ Closed() bool }
}

func (c SessionChecker) CheckHealth(ctx context.Context) error {
	if c.Session == nil {
		return errors.New("session not configured")
	}
	if c.Session.Closed() {
		return errors.New("session closed")
	}
	return nil
}
