package quest

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pixelprogress/server/store"
)

const (
	defaultDisplayName = "Pixel User"
	maxNameRunes       = 64
	maxAvatarBytes     = 2 << 20
)

// Profile is the user's display identity.
type Profile struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// DisplayName falls back from the name to the email to a fixed placeholder.
func (p Profile) DisplayName() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	if p.Email != "" {
		return p.Email
	}
	return defaultDisplayName
}

// ProfileView is Profile plus the resolved display name.
type ProfileView struct {
	Profile
	DisplayName string `json:"display_name"`
}

func (p Profile) View() ProfileView {
	return ProfileView{Profile: p, DisplayName: p.DisplayName()}
}

// ProfilePatch is a partial profile update. Email comes from the account and
// cannot be changed here.
type ProfilePatch struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

func (svc *Service) loadProfile(ctx context.Context, userID int64) (Profile, error) {
	var p Profile
	if _, err := svc.loadDoc(ctx, userID, store.ListProfile, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Profile returns the user's profile.
func (svc *Service) Profile(ctx context.Context, userID int64) (ProfileView, error) {
	defer svc.lock(userID)()
	p, err := svc.loadProfile(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	return p.View(), nil
}

// UpdateProfile changes the display name and avatar. An avatar must be an
// image data URI; an empty string clears it.
func (svc *Service) UpdateProfile(ctx context.Context, userID int64, patch ProfilePatch) (ProfileView, error) {
	if patch.Name != nil && utf8.RuneCountInString(strings.TrimSpace(*patch.Name)) > maxNameRunes {
		return ProfileView{}, ErrProfileTooLarge
	}
	if patch.Avatar != nil && *patch.Avatar != "" {
		if !strings.HasPrefix(*patch.Avatar, "data:image/") {
			return ProfileView{}, ErrInvalidAvatar
		}
		if len(*patch.Avatar) > maxAvatarBytes {
			return ProfileView{}, ErrProfileTooLarge
		}
	}

	unlock := svc.lock(userID)
	p, err := svc.loadProfile(ctx, userID)
	if err != nil {
		unlock()
		return ProfileView{}, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Avatar != nil {
		p.Avatar = *patch.Avatar
	}
	if err := svc.saveDoc(ctx, userID, store.ListProfile, p); err != nil {
		unlock()
		return ProfileView{}, err
	}
	unlock()

	svc.publish(ctx, userID, Event{Type: EventProfile, At: svc.now()})
	return p.View(), nil
}

// SyncEmail records the account email on the profile if it changed.
func (svc *Service) SyncEmail(ctx context.Context, userID int64, email string) error {
	defer svc.lock(userID)()
	p, err := svc.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	if p.Email == email {
		return nil
	}
	p.Email = email
	return svc.saveDoc(ctx, userID, store.ListProfile, p)
}
