package models

import (
	"testing"
	"time"
)

func TestRole_AtLeast(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleUser, RoleUser, true},
		{RoleUser, RoleAdmin, false},
		{RoleUser, RoleSuper, false},
		{RoleAdmin, RoleUser, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleSuper, false},
		{RoleSuper, RoleAdmin, true},
		{RoleSuper, RoleSuper, true},
		{Role("owner"), RoleUser, false},
		{Role(""), RoleUser, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.min), func(t *testing.T) {
			if got := tt.role.AtLeast(tt.min); got != tt.want {
				t.Errorf("%q.AtLeast(%q) = %v, want %v", tt.role, tt.min, got, tt.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAdmin, RoleSuper} {
		if !r.Valid() {
			t.Errorf("%q.Valid() = false, want true", r)
		}
	}
	if Role("moderator").Valid() {
		t.Error(`Role("moderator").Valid() = true, want false`)
	}
}

func TestBan_ActiveAt(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := t0.Add(600 * time.Second)
	timed := Ban{IssuedAt: t0, ExpiresAt: &exp}
	permanent := Ban{IssuedAt: t0}

	tests := []struct {
		name string
		ban  Ban
		at   time.Time
		want bool
	}{
		{"timed at issuance", timed, t0, true},
		{"timed one second before expiry", timed, t0.Add(599 * time.Second), true},
		{"timed exactly at expiry", timed, exp, false},
		{"timed after expiry", timed, t0.Add(601 * time.Second), false},
		{"permanent far future", permanent, t0.Add(100 * 365 * 24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.ActiveAt(tt.at); got != tt.want {
				t.Errorf("ActiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeKeyFor(t *testing.T) {
	if got := ScopeKeyFor(nil); got != 0 {
		t.Errorf("ScopeKeyFor(nil) = %d, want 0", got)
	}
	id := uint(42)
	if got := ScopeKeyFor(&id); got != 42 {
		t.Errorf("ScopeKeyFor(&42) = %d, want 42", got)
	}
	b := Ban{ChannelID: &id}
	if b.GroupWide() {
		t.Error("channel ban reported as group wide")
	}
	if !(Ban{}).GroupWide() {
		t.Error("ban without channel not reported as group wide")
	}
}
