package service

import (
	"testing"
	"time"

	"groupchat/internal/models"
)

func TestCanAccessChannel(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	alice := e.user(t, "alice")
	stranger := e.user(t, "stranger")
	g, general := e.group(t, owner, "g")
	e.member(t, g, alice, models.RoleUser)

	acc, err := e.access.CanAccessChannel(alice.ID, general.ID)
	if err != nil {
		t.Fatalf("CanAccessChannel() error = %v", err)
	}
	if acc.GroupID != g.ID || acc.Channel.ID != general.ID {
		t.Errorf("CanAccessChannel() = %+v, want group %d channel %d", acc, g.ID, general.ID)
	}

	_, err = e.access.CanAccessChannel(stranger.ID, general.ID)
	wantErr(t, err, ErrNotMember)

	_, err = e.access.CanAccessChannel(alice.ID, general.ID+100)
	wantErr(t, err, ErrChannelNotFound)
}

func TestCanAccessChannel_GroupBanCoversEveryChannel(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	bob := e.user(t, "bob")
	g, general := e.group(t, owner, "g")
	e.member(t, g, bob, models.RoleUser)
	random, err := e.channels.Create(owner.ID, g.ID, "random", "")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if _, err := e.bans.Create(owner.ID, CreateBanInput{GroupID: g.ID, UserID: bob.ID, DurationSeconds: models.PermanentDuration}); err != nil {
		t.Fatalf("create ban: %v", err)
	}
	for _, ch := range []uint{general.ID, random.ID} {
		_, err := e.access.CanAccessChannel(bob.ID, ch)
		wantErr(t, err, ErrBanned)
	}
}

func TestCanAccessChannel_ChannelBanIsNarrow(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	bob := e.user(t, "bob")
	g, general := e.group(t, owner, "g")
	e.member(t, g, bob, models.RoleUser)
	random, err := e.channels.Create(owner.ID, g.ID, "random", "")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if _, err := e.bans.Create(owner.ID, CreateBanInput{GroupID: g.ID, UserID: bob.ID, ChannelID: uintPtr(random.ID), DurationSeconds: 60}); err != nil {
		t.Fatalf("create ban: %v", err)
	}
	_, err = e.access.CanAccessChannel(bob.ID, random.ID)
	wantErr(t, err, ErrBanned)
	if _, err := e.access.CanAccessChannel(bob.ID, general.ID); err != nil {
		t.Errorf("CanAccessChannel(general) error = %v, want nil", err)
	}

	// evaluated against the clock at call time
	e.clock.Advance(61 * time.Second)
	if _, err := e.access.CanAccessChannel(bob.ID, random.ID); err != nil {
		t.Errorf("CanAccessChannel() after expiry error = %v, want nil", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	admin := e.user(t, "admin")
	plain := e.user(t, "plain")
	outsider := e.user(t, "outsider")
	g, _ := e.group(t, owner, "g")
	e.member(t, g, admin, models.RoleAdmin)
	e.member(t, g, plain, models.RoleUser)

	tests := []struct {
		name  string
		actor uint
		min   models.Role
		want  error
	}{
		{"super as super", owner.ID, models.RoleSuper, nil},
		{"super as admin", owner.ID, models.RoleAdmin, nil},
		{"admin as admin", admin.ID, models.RoleAdmin, nil},
		{"admin as super", admin.ID, models.RoleSuper, ErrInsufficientRole},
		{"user as admin", plain.ID, models.RoleAdmin, ErrInsufficientRole},
		{"user as user", plain.ID, models.RoleUser, nil},
		{"outsider", outsider.ID, models.RoleUser, ErrNotMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.access.RequireRole(tt.actor, g.ID, tt.min)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("RequireRole() error = %v, want nil", err)
				}
				return
			}
			wantErr(t, err, tt.want)
		})
	}

	// unknown group looks the same as non-membership
	_, err := e.access.RequireRole(owner.ID, g.ID+100, models.RoleUser)
	wantErr(t, err, ErrNotMember)
}

func TestGroupIDsForUser(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	g1, _ := e.group(t, owner, "one")
	g2, _ := e.group(t, owner, "two")

	ids, err := e.access.GroupIDsForUser(owner.ID)
	if err != nil {
		t.Fatalf("GroupIDsForUser() error = %v", err)
	}
	if len(ids) != 2 || ids[0]+ids[1] != g1.ID+g2.ID {
		t.Errorf("GroupIDsForUser() = %v, want [%d %d]", ids, g1.ID, g2.ID)
	}
}
