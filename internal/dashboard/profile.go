package dashboard

import (
	"context"

	"voidmod.org/internal/auth"
)

// Level is a staff rank earned through journaled actions.
type Level struct {
	Value int    `json:"level"`
	Label string `json:"levelLabel"`
}

var levels = []struct {
	min int
	Level
}{
	{500, Level{5, "Lead Guardian"}},
	{250, Level{4, "Elite Sentinel"}},
	{100, Level{3, "Senior Staff"}},
	{40, Level{2, "Staff Confirmé"}},
}

// LevelFor maps an action count to a level.
func LevelFor(actions int) Level {
	for _, l := range levels {
		if actions >= l.min {
			return l.Level
		}
	}
	return Level{1, "Nouveau Staff"}
}

// ProfileStats is the activity summary of a staff member.
type ProfileStats struct {
	Actions int `json:"actions"`
	Level
}

// Profile describes the caller.
type Profile struct {
	Pseudo      string             `json:"pseudo"`
	Role        auth.Role          `json:"role"`
	Permissions auth.PermissionSet `json:"permissions"`
	Stats       ProfileStats       `json:"stats"`
}

// Profile counts the caller's journaled actions.
func (s *Service) Profile(ctx context.Context, cred auth.Credential) (Profile, error) {
	if err := auth.Require(cred, auth.PermViewDashboard); err != nil {
		return Profile{}, err
	}
	n, err := s.activity.CountByActor(ctx, cred.Pseudo)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Pseudo:      cred.Pseudo,
		Role:        cred.Role,
		Permissions: cred.Permissions,
		Stats:       ProfileStats{Actions: n, Level: LevelFor(n)},
	}, nil
}
