package service

import (
	"testing"
	"time"

	"groupchat/internal/events"
	"groupchat/internal/models"
)

type banFixture struct {
	e       *testEnv
	owner   models.User
	admin   models.User
	bob     models.User
	group   models.Group
	general models.Channel
}

func newBanFixture(t *testing.T) banFixture {
	e := newTestEnv(t)
	f := banFixture{e: e, owner: e.user(t, "owner"), admin: e.user(t, "admin"), bob: e.user(t, "bob")}
	f.group, f.general = e.group(t, f.owner, "g")
	e.member(t, f.group, f.admin, models.RoleAdmin)
	e.member(t, f.group, f.bob, models.RoleUser)
	e.fan.reset()
	return f
}

func TestBan_ActivationAndExpiry(t *testing.T) {
	f := newBanFixture(t)
	ban, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 600})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ban.ExpiresAt == nil || !ban.ExpiresAt.Equal(t0.Add(600*time.Second)) {
		t.Fatalf("ExpiresAt = %v, want %v", ban.ExpiresAt, t0.Add(600*time.Second))
	}
	if !ban.IssuedAt.Equal(t0) || ban.IssuedBy != f.admin.ID {
		t.Errorf("IssuedAt/IssuedBy = %v/%d, want %v/%d", ban.IssuedAt, ban.IssuedBy, t0, f.admin.ID)
	}

	f.e.clock.Set(t0.Add(599 * time.Second))
	active, err := f.e.access.ActiveBan(f.bob.ID, f.group.ID, nil)
	if err != nil || active == nil {
		t.Fatalf("ActiveBan() at t0+599 = %v, %v; want active", active, err)
	}
	_, err = f.e.access.CanAccessChannel(f.bob.ID, f.general.ID)
	wantErr(t, err, ErrBanned)

	f.e.clock.Set(t0.Add(601 * time.Second))
	active, err = f.e.access.ActiveBan(f.bob.ID, f.group.ID, nil)
	if err != nil || active != nil {
		t.Fatalf("ActiveBan() at t0+601 = %v, %v; want none", active, err)
	}
	if _, err := f.e.access.CanAccessChannel(f.bob.ID, f.general.ID); err != nil {
		t.Errorf("CanAccessChannel() at t0+601 error = %v, want nil", err)
	}
}

func TestBan_SingleActivePerScope(t *testing.T) {
	f := newBanFixture(t)
	in := CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 60}
	first, err := f.e.bans.Create(f.admin.ID, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = f.e.bans.Create(f.owner.ID, in)
	wantErr(t, err, ErrBanConflict)

	// a channel ban for the same user coexists with the group ban
	chIn := in
	chIn.ChannelID = uintPtr(f.general.ID)
	if _, err := f.e.bans.Create(f.admin.ID, chIn); err != nil {
		t.Fatalf("Create(channel) error = %v", err)
	}

	// deleted: creation succeeds again
	if err := f.e.bans.Delete(f.admin.ID, first.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	second, err := f.e.bans.Create(f.admin.ID, in)
	if err != nil {
		t.Fatalf("Create() after delete error = %v", err)
	}

	// expired but not yet swept: the stale row is retired first
	f.e.clock.Advance(2 * time.Minute)
	f.e.fan.reset()
	third, err := f.e.bans.Create(f.admin.ID, in)
	if err != nil {
		t.Fatalf("Create() after expiry error = %v", err)
	}
	if third.ID == second.ID {
		t.Errorf("Create() reused ban id %d", third.ID)
	}
	got := f.e.fan.names()
	if len(got) != 2 || got[0] != events.BanDeleted || got[1] != events.BanCreated {
		t.Errorf("events = %v, want [banDeleted banCreated]", got)
	}
	var count int64
	f.e.db.Model(&models.Ban{}).Where("user_id = ? AND group_id = ? AND channel_id IS NULL", f.bob.ID, f.group.ID).Count(&count)
	if count != 1 {
		t.Errorf("group bans for bob = %d, want 1", count)
	}
}

func TestBan_CreateValidation(t *testing.T) {
	f := newBanFixture(t)
	other := f.e.user(t, "other")
	_, otherChannel := f.e.group(t, other, "other-group")
	f.e.fan.reset()

	tests := []struct {
		name  string
		actor uint
		in    CreateBanInput
		want  error
	}{
		{"zero duration", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 0}, ErrValidation},
		{"negative duration", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: -5}, ErrValidation},
		{"self ban", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.admin.ID, DurationSeconds: 60}, ErrValidation},
		{"plain user", f.bob.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.admin.ID, DurationSeconds: 60}, ErrInsufficientRole},
		{"outsider", other.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 60}, ErrNotMember},
		{"ban super", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.owner.ID, DurationSeconds: 60}, ErrSuperImmutable},
		{"foreign channel", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, ChannelID: uintPtr(otherChannel.ID), DurationSeconds: 60}, ErrChannelNotFound},
		{"unknown user", f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: 9999, DurationSeconds: 60}, ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.e.bans.Create(tt.actor, tt.in)
			wantErr(t, err, tt.want)
		})
	}
	if n := len(f.e.fan.names()); n != 0 {
		t.Errorf("rejected creates emitted %d events", n)
	}
}

func TestBan_CreateEmitsAndEvicts(t *testing.T) {
	f := newBanFixture(t)
	random, err := f.e.channels.Create(f.owner.ID, f.group.ID, "random", "")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	f.e.fan.reset()

	if _, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, ChannelID: uintPtr(random.ID), DurationSeconds: 60}); err != nil {
		t.Fatalf("Create(channel) error = %v", err)
	}
	ev, ok := f.e.fan.last().(events.BanEvent)
	if !ok || ev.Name() != events.BanCreated || ev.Room() != events.GroupRoom(f.group.ID) {
		t.Fatalf("last event = %#v, want banCreated to group room", f.e.fan.last())
	}
	if got := f.e.fan.evicted[f.bob.ID]; len(got) != 1 || got[0] != events.ChannelRoom(random.ID) {
		t.Errorf("evicted = %v, want [channel:%d]", got, random.ID)
	}

	f.e.fan.reset()
	if _, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: models.PermanentDuration}); err != nil {
		t.Fatalf("Create(group) error = %v", err)
	}
	if got := f.e.fan.evicted[f.bob.ID]; len(got) != 2 {
		t.Errorf("evicted = %v, want both channel rooms", got)
	}
}

func TestBan_Update(t *testing.T) {
	f := newBanFixture(t)
	ban, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, Reason: "spam", DurationSeconds: 60})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.e.clock.Advance(30 * time.Second)

	got, err := f.e.bans.Update(f.admin.ID, ban.ID, UpdateBanInput{Reason: strPtr("flood"), DurationSeconds: intPtr(100)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want := t0.Add(130 * time.Second)
	if got.Reason != "flood" || got.ExpiresAt == nil || !got.ExpiresAt.Equal(want) {
		t.Errorf("Update() = reason %q expires %v, want flood %v", got.Reason, got.ExpiresAt, want)
	}
	var stored models.Ban
	f.e.db.First(&stored, ban.ID)
	if stored.Reason != "flood" || stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(want) {
		t.Errorf("stored = reason %q expires %v, want flood %v", stored.Reason, stored.ExpiresAt, want)
	}
	if f.e.fan.last().Name() != events.BanUpdated {
		t.Errorf("last event = %s, want banUpdated", f.e.fan.last().Name())
	}

	got, err = f.e.bans.Update(f.admin.ID, ban.ID, UpdateBanInput{DurationSeconds: intPtr(models.PermanentDuration)})
	if err != nil {
		t.Fatalf("Update(permanent) error = %v", err)
	}
	var permanent models.Ban
	f.e.db.First(&permanent, ban.ID)
	if got.ExpiresAt != nil || permanent.ExpiresAt != nil {
		t.Errorf("permanent update left expires_at = %v / %v", got.ExpiresAt, permanent.ExpiresAt)
	}

	_, err = f.e.bans.Update(f.bob.ID, ban.ID, UpdateBanInput{Reason: strPtr("x")})
	wantErr(t, err, ErrForbidden)
	_, err = f.e.bans.Update(f.admin.ID, ban.ID, UpdateBanInput{DurationSeconds: intPtr(0)})
	wantErr(t, err, ErrValidation)
	_, err = f.e.bans.Update(f.admin.ID, ban.ID+100, UpdateBanInput{})
	wantErr(t, err, ErrBanNotFound)
}

func TestBan_Delete(t *testing.T) {
	f := newBanFixture(t)
	ban, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 60})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wantErr(t, f.e.bans.Delete(f.bob.ID, ban.ID), ErrInsufficientRole)
	if err := f.e.bans.Delete(f.admin.ID, ban.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if f.e.fan.last().Name() != events.BanDeleted {
		t.Errorf("last event = %s, want banDeleted", f.e.fan.last().Name())
	}
	wantErr(t, f.e.bans.Delete(f.admin.ID, ban.ID), ErrBanNotFound)
}

func TestBan_List(t *testing.T) {
	f := newBanFixture(t)
	carol := f.e.user(t, "carol")
	f.e.member(t, f.group, carol, models.RoleUser)
	if _, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 60}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: carol.ID, ChannelID: uintPtr(f.general.ID), DurationSeconds: models.PermanentDuration}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	all, err := f.e.bans.ListActive(f.admin.ID, BanFilter{GroupID: f.group.ID})
	if err != nil || len(all) != 2 {
		t.Fatalf("ListActive(group) = %d bans, %v; want 2", len(all), err)
	}
	byChannel, err := f.e.bans.ListActive(f.admin.ID, BanFilter{ChannelID: f.general.ID})
	if err != nil || len(byChannel) != 1 || byChannel[0].UserID != carol.ID {
		t.Fatalf("ListActive(channel) = %v, %v; want carol's ban", byChannel, err)
	}
	own, err := f.e.bans.ListActive(f.bob.ID, BanFilter{})
	if err != nil || len(own) != 1 || own[0].UserID != f.bob.ID {
		t.Fatalf("ListActive(own) = %v, %v; want bob's ban", own, err)
	}

	_, err = f.e.bans.ListActive(f.bob.ID, BanFilter{GroupID: f.group.ID})
	wantErr(t, err, ErrInsufficientRole)
	_, err = f.e.bans.ListActive(f.bob.ID, BanFilter{UserID: carol.ID})
	wantErr(t, err, ErrValidation)

	f.e.clock.Advance(time.Hour)
	active, _ := f.e.bans.ListActive(f.admin.ID, BanFilter{GroupID: f.group.ID})
	everything, _ := f.e.bans.ListAll(f.admin.ID, BanFilter{GroupID: f.group.ID})
	if len(active) != 1 || len(everything) != 2 {
		t.Errorf("after expiry active=%d all=%d, want 1 and 2", len(active), len(everything))
	}
}

func TestBan_ExpireIsConditional(t *testing.T) {
	f := newBanFixture(t)
	short, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, DurationSeconds: 10})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.e.bans.Create(f.admin.ID, CreateBanInput{GroupID: f.group.ID, UserID: f.bob.ID, ChannelID: uintPtr(f.general.ID), DurationSeconds: models.PermanentDuration}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expired, err := f.e.bans.ListExpired()
	if err != nil || len(expired) != 0 {
		t.Fatalf("ListExpired() before expiry = %v, %v", expired, err)
	}
	f.e.clock.Advance(10 * time.Second)
	expired, err = f.e.bans.ListExpired()
	if err != nil || len(expired) != 1 || expired[0].ID != short.ID {
		t.Fatalf("ListExpired() = %v, %v; want the short ban", expired, err)
	}
	ok, err := f.e.bans.Expire(expired[0])
	if err != nil || !ok {
		t.Fatalf("Expire() = %v, %v; want true", ok, err)
	}
	ok, err = f.e.bans.Expire(expired[0])
	if err != nil || ok {
		t.Errorf("second Expire() = %v, %v; want false, nil", ok, err)
	}
}

func TestEndToEndBanScenario(t *testing.T) {
	e := newTestEnv(t)
	a := e.user(t, "a")
	b := e.user(t, "b")
	g, general := e.group(t, a, "G")

	m, err := e.access.RequireRole(a.ID, g.ID, models.RoleSuper)
	if err != nil || m.Role != models.RoleSuper {
		t.Fatalf("creator membership = %v, %v; want super", m, err)
	}
	if _, err := e.groups.Invite(a.ID, g.ID, b.ID); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	ban, err := e.bans.Create(a.ID, CreateBanInput{GroupID: g.ID, UserID: b.ID, DurationSeconds: models.PermanentDuration})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ban.ExpiresAt != nil {
		t.Fatalf("permanent ban has expiry %v", ban.ExpiresAt)
	}
	_, err = e.access.CanAccessChannel(b.ID, general.ID)
	wantErr(t, err, ErrBanned)

	if err := e.bans.Delete(a.ID, ban.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := e.access.CanAccessChannel(b.ID, general.ID); err != nil {
		t.Errorf("CanAccessChannel() after unban error = %v, want nil", err)
	}
}
